package mtproto

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
)

// SendCode starts the phone-code flow and returns the code hash the sign-in
// step needs.
func (c *Client) SendCode(ctx context.Context, phone string) (string, error) {
	sent, err := c.tc.Auth().SendCode(ctx, phone, auth.SendCodeOptions{})
	if err != nil {
		return "", wrapRPC(err)
	}
	code, ok := sent.(*tg.AuthSentCode)
	if !ok {
		return "", fmt.Errorf("unexpected sent-code response %T", sent)
	}
	return code.PhoneCodeHash, nil
}

// SignIn completes the phone-code flow. When the account has two-factor auth
// the provided password resolves the second step.
func (c *Client) SignIn(ctx context.Context, phone, codeHash, code, password string) error {
	_, err := c.tc.Auth().SignIn(ctx, phone, code, codeHash)
	if err == nil {
		return nil
	}
	if errors.Is(err, auth.ErrPasswordAuthNeeded) {
		if password == "" {
			return fmt.Errorf("two-factor password required: %w", err)
		}
		if _, err := c.tc.Auth().Password(ctx, password); err != nil {
			return wrapRPC(err)
		}
		return nil
	}
	return wrapRPC(err)
}

// ExportLoginURL requests a login token and renders it as a tg://login URL.
// The operator opens it from an already-authorized device.
func (c *Client) ExportLoginURL(ctx context.Context) (string, error) {
	res, err := c.api.AuthExportLoginToken(ctx, &tg.AuthExportLoginTokenRequest{
		APIID:   c.appID,
		APIHash: c.appHash,
	})
	if err != nil {
		return "", wrapRPC(err)
	}
	token, ok := res.(*tg.AuthLoginToken)
	if !ok {
		return "", fmt.Errorf("unexpected login token response %T", res)
	}
	return "tg://login?token=" + base64.RawURLEncoding.EncodeToString(token.Token), nil
}

// ResetSession tears the connection down and wipes the local session files.
func (c *Client) ResetSession() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
	removeSessionFiles(c.sessionPath)
	return nil
}
