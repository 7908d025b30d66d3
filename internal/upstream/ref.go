package upstream

import (
	"fmt"
	"strconv"
	"strings"
)

// Ref is a normalized chat reference: either a numeric peer id or a
// @username. Exactly one of the two is set.
type Ref struct {
	ID       int64
	Username string
}

func (r Ref) IsID() bool { return r.Username == "" }

func (r Ref) String() string {
	if r.IsID() {
		return strconv.FormatInt(r.ID, 10)
	}
	return r.Username
}

// NormalizeRef turns operator input into a Ref. Accepted forms: a numeric
// peer id, @username, bare username, t.me/<username>[/...], and
// t.me/c/<internal>/<msg>[/...] whose chat id is -100 concatenated with the
// internal id. NormalizeRef is idempotent over its own string output.
func NormalizeRef(input string) (Ref, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return Ref{}, fmt.Errorf("%w: empty chat reference", ErrInvalidInput)
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Ref{ID: n}, nil
	}

	if strings.HasPrefix(s, "@") {
		if len(s) == 1 {
			return Ref{}, fmt.Errorf("%w: empty username", ErrInvalidInput)
		}
		return Ref{Username: s}, nil
	}

	if path, ok := stripLinkPrefix(s); ok {
		parts := strings.Split(path, "/")
		if len(parts) == 0 || parts[0] == "" {
			return Ref{}, fmt.Errorf("%w: bad link %q", ErrInvalidInput, input)
		}
		if parts[0] == "c" {
			if len(parts) < 2 || parts[1] == "" {
				return Ref{}, fmt.Errorf("%w: bad internal link %q", ErrInvalidInput, input)
			}
			n, err := strconv.ParseInt("-100"+parts[1], 10, 64)
			if err != nil {
				return Ref{}, fmt.Errorf("%w: bad internal id %q", ErrInvalidInput, parts[1])
			}
			return Ref{ID: n}, nil
		}
		return Ref{Username: "@" + parts[0]}, nil
	}

	return Ref{Username: "@" + s}, nil
}

func stripLinkPrefix(s string) (string, bool) {
	for _, prefix := range []string{"https://t.me/", "http://t.me/", "t.me/", "https://telegram.me/", "telegram.me/"} {
		if strings.HasPrefix(s, prefix) {
			return strings.TrimPrefix(s, prefix), true
		}
	}
	return "", false
}
