package panel

import (
	"testing"
	"time"
)

func tokenServiceAt(password string, ttl time.Duration, unix int64) *TokenService {
	ts := NewTokenService(password, ttl)
	ts.now = func() time.Time { return time.Unix(unix, 0) }
	return ts
}

func TestTokenLifecycle(t *testing.T) {
	ts := tokenServiceAt("secret", 10*time.Second, 100)
	token := ts.Issue()

	ts.now = func() time.Time { return time.Unix(109, 0) }
	if !ts.Verify(token) {
		t.Fatal("token should still be valid one second before expiry")
	}

	ts.now = func() time.Time { return time.Unix(111, 0) }
	if ts.Verify(token) {
		t.Fatal("token should be rejected after expiry")
	}
}

func TestTokenTamperedSignature(t *testing.T) {
	ts := tokenServiceAt("secret", 10*time.Second, 100)
	token := ts.Issue()

	tampered := []byte(token)
	last := &tampered[len(tampered)-1]
	if *last == 'a' {
		*last = 'b'
	} else {
		*last = 'a'
	}

	ts.now = func() time.Time { return time.Unix(105, 0) }
	if ts.Verify(string(tampered)) {
		t.Fatal("tampered token should be rejected")
	}
	if !ts.Verify(token) {
		t.Fatal("original token should still verify")
	}
}

func TestTokenRejectsGarbage(t *testing.T) {
	ts := tokenServiceAt("secret", 10*time.Second, 100)
	for _, tok := range []string{"", "110", ".deadbeef", "notanumber.deadbeef", "110."} {
		if ts.Verify(tok) {
			t.Fatalf("token %q should be rejected", tok)
		}
	}
}

func TestTokenWrongPassword(t *testing.T) {
	issued := tokenServiceAt("secret", 10*time.Second, 100).Issue()
	other := tokenServiceAt("other", 10*time.Second, 100)
	if other.Verify(issued) {
		t.Fatal("token signed with a different password should be rejected")
	}
	if !other.CheckPassword("other") || other.CheckPassword("secret") {
		t.Fatal("password check mismatch")
	}
}
