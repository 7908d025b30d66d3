package upstream

import (
	"errors"
	"testing"
)

func TestNormalizeRef(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantID   int64
		wantName string
	}{
		{"internal link", "https://t.me/c/3301983683/879/9606", -1003301983683, ""},
		{"public link with message", "https://t.me/example_group/123", 0, "@example_group"},
		{"bare link", "t.me/somechannel", 0, "@somechannel"},
		{"numeric id", "-1002345", -1002345, ""},
		{"positive numeric", "12345", 12345, ""},
		{"at username", "@already", 0, "@already"},
		{"bare username", "plainname", 0, "@plainname"},
		{"whitespace", "  @padded  ", 0, "@padded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeRef(tt.input)
			if err != nil {
				t.Fatalf("NormalizeRef(%q): %v", tt.input, err)
			}
			if got.ID != tt.wantID || got.Username != tt.wantName {
				t.Fatalf("NormalizeRef(%q) = %+v, want id=%d name=%q", tt.input, got, tt.wantID, tt.wantName)
			}
		})
	}
}

func TestNormalizeRefIsIdempotent(t *testing.T) {
	inputs := []string{
		"https://t.me/c/3301983683/879/9606",
		"https://t.me/example_group/123",
		"@name",
		"name",
		"-1001234",
	}
	for _, in := range inputs {
		first, err := NormalizeRef(in)
		if err != nil {
			t.Fatalf("NormalizeRef(%q): %v", in, err)
		}
		second, err := NormalizeRef(first.String())
		if err != nil {
			t.Fatalf("NormalizeRef(%q): %v", first.String(), err)
		}
		if first != second {
			t.Fatalf("not idempotent for %q: %+v vs %+v", in, first, second)
		}
	}
}

func TestNormalizeRefRejectsBadInput(t *testing.T) {
	for _, in := range []string{"", "   ", "@", "t.me/c/"} {
		if _, err := NormalizeRef(in); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("NormalizeRef(%q) should fail with invalid input, got %v", in, err)
		}
	}
}
