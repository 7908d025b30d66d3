package update

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/moeacgx/TelegramAutoClone/internal/store"
	"github.com/moeacgx/TelegramAutoClone/internal/upstream"
)

const (
	baselineKey = "update_baseline_digest"
	notifiedKey = "update_notified_digest"
)

// Checker watches the container registry for a newer image digest and, when
// allowed, triggers a watchtower redeploy.
type Checker struct {
	st *store.Store
	gw *upstream.Gateway

	image          string
	watchtowerURL  string
	watchtowerTok  string
	notifyEnabled  bool
	client         *http.Client
}

func New(st *store.Store, gw *upstream.Gateway, image, watchtowerURL, watchtowerToken string, notifyEnabled bool, timeout time.Duration) *Checker {
	return &Checker{
		st:            st,
		gw:            gw,
		image:         image,
		watchtowerURL: watchtowerURL,
		watchtowerTok: watchtowerToken,
		notifyEnabled: notifyEnabled,
		client:        &http.Client{Timeout: timeout},
	}
}

// Status is the panel's view of the update state.
type Status struct {
	Image          string `json:"image"`
	BaselineDigest string `json:"baseline_digest,omitempty"`
	RemoteDigest   string `json:"remote_digest,omitempty"`
	UpdateReady    bool   `json:"update_ready"`
	Error          string `json:"error,omitempty"`
}

// imageRef is a parsed container image reference.
type imageRef struct {
	registry string
	repo     string
	tag      string
}

func parseImageRef(image string) (imageRef, error) {
	if image == "" {
		return imageRef{}, fmt.Errorf("no app image configured")
	}
	ref := imageRef{registry: "registry-1.docker.io", tag: "latest"}

	rest := image
	if i := strings.Index(rest, "/"); i > 0 && strings.ContainsAny(rest[:i], ".:") {
		ref.registry = rest[:i]
		rest = rest[i+1:]
	}
	if i := strings.LastIndex(rest, ":"); i > 0 {
		ref.tag = rest[i+1:]
		rest = rest[:i]
	}
	if ref.registry == "registry-1.docker.io" && !strings.Contains(rest, "/") {
		rest = "library/" + rest
	}
	if rest == "" {
		return imageRef{}, fmt.Errorf("bad image reference %q", image)
	}
	ref.repo = rest
	return ref, nil
}

// remoteDigest fetches the manifest digest, following the registry's bearer
// auth challenge when it answers 401.
func (c *Checker) remoteDigest(ctx context.Context) (string, error) {
	ref, err := parseImageRef(c.image)
	if err != nil {
		return "", err
	}
	url := fmt.Sprintf("https://%s/v2/%s/manifests/%s", ref.registry, ref.repo, ref.tag)

	digest, challenge, err := c.fetchDigest(ctx, url, "")
	if err != nil {
		return "", err
	}
	if digest != "" {
		return digest, nil
	}

	token, err := c.bearerToken(ctx, challenge)
	if err != nil {
		return "", err
	}
	digest, _, err = c.fetchDigest(ctx, url, token)
	if err != nil {
		return "", err
	}
	if digest == "" {
		return "", fmt.Errorf("registry refused manifest request")
	}
	return digest, nil
}

func (c *Checker) fetchDigest(ctx context.Context, url, token string) (digest, challenge string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Accept", strings.Join([]string{
		"application/vnd.docker.distribution.manifest.v2+json",
		"application/vnd.docker.distribution.manifest.list.v2+json",
		"application/vnd.oci.image.index.v1+json",
		"application/vnd.oci.image.manifest.v1+json",
	}, ", "))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("registry request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return resp.Header.Get("Docker-Content-Digest"), "", nil
	case http.StatusUnauthorized:
		return "", resp.Header.Get("WWW-Authenticate"), nil
	default:
		return "", "", fmt.Errorf("registry answered %s", resp.Status)
	}
}

// bearerToken resolves a `Bearer realm=...,service=...,scope=...` challenge.
func (c *Checker) bearerToken(ctx context.Context, challenge string) (string, error) {
	params := parseChallenge(challenge)
	realm := params["realm"]
	if realm == "" {
		return "", fmt.Errorf("registry challenge without realm: %q", challenge)
	}

	url := realm
	sep := "?"
	for _, key := range []string{"service", "scope"} {
		if v := params[key]; v != "" {
			url += sep + key + "=" + v
			sep = "&"
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint answered %s", resp.Status)
	}

	var body struct {
		Token       string `json:"token"`
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if body.Token != "" {
		return body.Token, nil
	}
	return body.AccessToken, nil
}

func parseChallenge(header string) map[string]string {
	out := make(map[string]string)
	header = strings.TrimPrefix(header, "Bearer ")
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		out[kv[0]] = strings.Trim(kv[1], `"`)
	}
	return out
}

// CheckOnce compares the remote digest against the baseline and notifies the
// operator once per new digest.
func (c *Checker) CheckOnce(ctx context.Context) (*Status, error) {
	status := &Status{Image: c.image}
	if c.image == "" {
		return status, nil
	}

	baseline, _, err := c.st.GetSetting(baselineKey)
	if err != nil {
		return nil, err
	}
	status.BaselineDigest = baseline

	digest, err := c.remoteDigest(ctx)
	if err != nil {
		status.Error = err.Error()
		return status, nil
	}
	status.RemoteDigest = digest

	if baseline == "" {
		// First check establishes the baseline silently.
		if err := c.st.SetSetting(baselineKey, digest); err != nil {
			return nil, err
		}
		status.BaselineDigest = digest
		return status, nil
	}
	if digest == baseline {
		return status, nil
	}
	status.UpdateReady = true

	notified, _, err := c.st.GetSetting(notifiedKey)
	if err != nil {
		return nil, err
	}
	if c.notifyEnabled && notified != digest {
		c.gw.Notify(ctx, fmt.Sprintf("a newer image of %s is available (%s)", c.image, shortDigest(digest)))
		if err := c.st.SetSetting(notifiedKey, digest); err != nil {
			return nil, err
		}
	}
	return status, nil
}

// Apply asks watchtower to redeploy. Refused while any recovery job is
// running, a redeploy mid-replay would waste the whole attempt.
func (c *Checker) Apply(ctx context.Context) error {
	if c.watchtowerURL == "" {
		return fmt.Errorf("no watchtower endpoint configured")
	}
	running, err := c.st.CountRunningRecoveryJobs()
	if err != nil {
		return err
	}
	if running > 0 {
		return fmt.Errorf("%w: %d recovery jobs still running", store.ErrPrecondition, running)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.watchtowerURL, nil)
	if err != nil {
		return err
	}
	if c.watchtowerTok != "" {
		req.Header.Set("Authorization", "Bearer "+c.watchtowerTok)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("watchtower request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("watchtower answered %s", resp.Status)
	}
	slog.Info("watchtower update triggered")
	return nil
}

func shortDigest(d string) string {
	if len(d) > 19 {
		return d[:19]
	}
	return d
}
