package panel

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// TokenService issues and verifies the panel's stateless session tokens.
// A token is "<expiry-unix-seconds>.<hex hmac-sha256 of that string>", keyed
// by the panel password. Restarting the process keeps sessions valid as long
// as the password stays the same.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenService(password string, ttl time.Duration) *TokenService {
	return &TokenService{secret: []byte(password), ttl: ttl, now: time.Now}
}

// CheckPassword compares the login attempt against the panel password in
// constant time.
func (t *TokenService) CheckPassword(attempt string) bool {
	return subtle.ConstantTimeCompare([]byte(attempt), t.secret) == 1
}

// Issue mints a token valid for the configured TTL.
func (t *TokenService) Issue() string {
	payload := strconv.FormatInt(t.now().Add(t.ttl).Unix(), 10)
	return payload + "." + t.sign(payload)
}

// Verify reports whether the token carries a valid signature and has not
// expired yet.
func (t *TokenService) Verify(token string) bool {
	payload, sig, ok := strings.Cut(token, ".")
	if !ok {
		return false
	}
	if !hmac.Equal([]byte(sig), []byte(t.sign(payload))) {
		return false
	}
	expiry, err := strconv.ParseInt(payload, 10, 64)
	if err != nil {
		return false
	}
	return t.now().Unix() < expiry
}

func (t *TokenService) sign(payload string) string {
	mac := hmac.New(sha256.New, t.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
