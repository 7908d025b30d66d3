package upstream

import (
	"context"
	"fmt"
	"log/slog"
)

// Gateway pairs the two sessions and owns the cross-cutting concerns:
// connection upkeep with session self-heal, operator notifications, and the
// interactive login flows.
type Gateway struct {
	reader Client
	writer Client

	notifyChatID int64
	logins       *loginRegistry
}

func NewGateway(reader, writer Client, notifyChatID int64) *Gateway {
	return &Gateway{
		reader:       reader,
		writer:       writer,
		notifyChatID: notifyChatID,
		logins:       newLoginRegistry(),
	}
}

func (g *Gateway) Reader() Client { return g.reader }
func (g *Gateway) Writer() Client { return g.writer }

// EnsureConnected brings both sessions up. A healed session means the local
// storage was corrupt and rebuilt; the operator is told to re-login once.
func (g *Gateway) EnsureConnected(ctx context.Context) error {
	for _, c := range []Client{g.reader, g.writer} {
		healed, err := c.EnsureConnected(ctx)
		if err != nil {
			return fmt.Errorf("connect %s session: %w", c.Role(), err)
		}
		if healed {
			slog.Warn("session storage rebuilt", "role", c.Role())
			g.Notify(ctx, fmt.Sprintf("%s session storage was corrupt and has been rebuilt, re-login required", c.Role()))
		}
	}
	return nil
}

// ReaderAuthorized reports whether the reader session holds a live login.
// Errors read as unauthorized: the loops must not run on a broken session.
func (g *Gateway) ReaderAuthorized(ctx context.Context) bool {
	ok, err := g.reader.IsAuthorized(ctx)
	if err != nil {
		slog.Debug("reader auth check failed", "error", err)
		return false
	}
	return ok
}

func (g *Gateway) WriterAuthorized(ctx context.Context) bool {
	ok, err := g.writer.IsAuthorized(ctx)
	if err != nil {
		slog.Debug("writer auth check failed", "error", err)
		return false
	}
	return ok
}

// Notify sends a best-effort message to the operator chat. Failures are
// logged and never propagate.
func (g *Gateway) Notify(ctx context.Context, text string) {
	if g.notifyChatID == 0 {
		return
	}
	if err := g.writer.SendMessage(ctx, g.notifyChatID, text, nil); err != nil {
		slog.Warn("operator notification failed", "error", err)
	}
}
