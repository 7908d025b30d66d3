package upstream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LoginClient is the extra surface a session needs for interactive login.
// The reader (user account) implements it; the writer logs in with its token
// at connect time and never goes through these flows.
type LoginClient interface {
	Client

	// SendCode requests a phone code and returns the provider's code hash.
	SendCode(ctx context.Context, phone string) (string, error)
	// SignIn completes the phone-code flow. A non-empty password resolves
	// the two-factor step.
	SignIn(ctx context.Context, phone, codeHash, code, password string) error
	// ExportLoginURL returns a tg://login token URL for the QR-style flow.
	ExportLoginURL(ctx context.Context) (string, error)
	// ResetSession wipes the local session storage.
	ResetSession() error
}

const pendingLoginTTL = 10 * time.Minute

type pendingLogin struct {
	phone     string
	codeHash  string
	createdAt time.Time
}

type loginRegistry struct {
	mu      sync.Mutex
	pending map[string]*pendingLogin
}

func newLoginRegistry() *loginRegistry {
	return &loginRegistry{pending: make(map[string]*pendingLogin)}
}

// StartPhoneLogin begins the reader's phone-code flow and returns an opaque
// token the panel hands back with the code.
func (g *Gateway) StartPhoneLogin(ctx context.Context, phone string) (string, error) {
	lc, ok := g.reader.(LoginClient)
	if !ok {
		return "", fmt.Errorf("%w: reader session does not support interactive login", ErrInvalidInput)
	}
	if phone == "" {
		return "", fmt.Errorf("%w: empty phone number", ErrInvalidInput)
	}

	// sign_in flows are not re-entrant; serialize against resets too.
	g.logins.mu.Lock()
	defer g.logins.mu.Unlock()

	codeHash, err := lc.SendCode(ctx, phone)
	if err != nil {
		return "", fmt.Errorf("send code: %w", err)
	}

	token := uuid.NewString()
	g.logins.pending[token] = &pendingLogin{
		phone:     phone,
		codeHash:  codeHash,
		createdAt: time.Now(),
	}
	return token, nil
}

// CompletePhoneLogin finishes a pending flow. password is only consulted
// when the account has two-factor auth enabled.
func (g *Gateway) CompletePhoneLogin(ctx context.Context, token, code, password string) error {
	lc, ok := g.reader.(LoginClient)
	if !ok {
		return fmt.Errorf("%w: reader session does not support interactive login", ErrInvalidInput)
	}

	g.logins.mu.Lock()
	defer g.logins.mu.Unlock()

	p, ok := g.logins.pending[token]
	if !ok {
		return fmt.Errorf("%w: unknown or expired login token", ErrInvalidInput)
	}
	if time.Since(p.createdAt) > pendingLoginTTL {
		delete(g.logins.pending, token)
		return fmt.Errorf("%w: login token expired", ErrInvalidInput)
	}

	if err := lc.SignIn(ctx, p.phone, p.codeHash, code, password); err != nil {
		return fmt.Errorf("sign in: %w", err)
	}
	delete(g.logins.pending, token)
	return nil
}

// LoginURL exposes the QR-style flow as a plain login URL.
func (g *Gateway) LoginURL(ctx context.Context) (string, error) {
	lc, ok := g.reader.(LoginClient)
	if !ok {
		return "", fmt.Errorf("%w: reader session does not support interactive login", ErrInvalidInput)
	}
	return lc.ExportLoginURL(ctx)
}

// ResetUserSession wipes the reader's session storage. Holds the login lock
// so it cannot race an in-flight sign-in.
func (g *Gateway) ResetUserSession(ctx context.Context) error {
	lc, ok := g.reader.(LoginClient)
	if !ok {
		return fmt.Errorf("%w: reader session does not support interactive login", ErrInvalidInput)
	}

	g.logins.mu.Lock()
	defer g.logins.mu.Unlock()

	g.logins.pending = make(map[string]*pendingLogin)
	if err := lc.ResetSession(); err != nil {
		return fmt.Errorf("reset session: %w", err)
	}
	if _, err := g.reader.EnsureConnected(ctx); err != nil {
		return fmt.Errorf("reconnect after reset: %w", err)
	}
	return nil
}

// PurgeExpiredLogins drops pending flows older than the TTL. Called from the
// monitor loop as housekeeping.
func (g *Gateway) PurgeExpiredLogins() int {
	g.logins.mu.Lock()
	defer g.logins.mu.Unlock()

	n := 0
	for token, p := range g.logins.pending {
		if time.Since(p.createdAt) > pendingLoginTTL {
			delete(g.logins.pending, token)
			n++
		}
	}
	return n
}
