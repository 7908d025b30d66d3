package update

import "testing"

func TestParseImageRef(t *testing.T) {
	cases := []struct {
		image    string
		registry string
		repo     string
		tag      string
	}{
		{"ghcr.io/acme/mirror:v2", "ghcr.io", "acme/mirror", "v2"},
		{"ghcr.io/acme/mirror", "ghcr.io", "acme/mirror", "latest"},
		{"registry.local:5000/mirror:dev", "registry.local:5000", "mirror", "dev"},
		{"acme/mirror:v2", "registry-1.docker.io", "acme/mirror", "v2"},
		{"redis", "registry-1.docker.io", "library/redis", "latest"},
	}
	for _, tc := range cases {
		ref, err := parseImageRef(tc.image)
		if err != nil {
			t.Errorf("parseImageRef(%q): %v", tc.image, err)
			continue
		}
		if ref.registry != tc.registry || ref.repo != tc.repo || ref.tag != tc.tag {
			t.Errorf("parseImageRef(%q) = %+v, want %s/%s:%s", tc.image, ref, tc.registry, tc.repo, tc.tag)
		}
	}

	if _, err := parseImageRef(""); err == nil {
		t.Error("empty image should fail")
	}
}

func TestParseChallenge(t *testing.T) {
	params := parseChallenge(`Bearer realm="https://auth.example.com/token",service="registry.example.com",scope="repository:acme/mirror:pull"`)
	if params["realm"] != "https://auth.example.com/token" {
		t.Fatalf("realm=%q", params["realm"])
	}
	if params["service"] != "registry.example.com" {
		t.Fatalf("service=%q", params["service"])
	}
	if params["scope"] != "repository:acme/mirror:pull" {
		t.Fatalf("scope=%q", params["scope"])
	}
}
