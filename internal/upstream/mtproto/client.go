package mtproto

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"

	"github.com/moeacgx/TelegramAutoClone/internal/upstream"
)

// Client is one MTProto session backed by a session file. Both the reader
// (user account) and the writer (bot-token login) use this type; the role
// only decides the login path and which call sites may use it.
type Client struct {
	role        upstream.Role
	appID       int
	appHash     string
	botToken    string
	sessionPath string

	mu        sync.Mutex
	tc        *telegram.Client
	api       *tg.Client
	cancelRun context.CancelFunc
	runDone   chan struct{}
	connected bool

	// access-hash cache, chat id → hash
	hashes sync.Map

	handlersMu sync.Mutex
	handlers   []func(ctx context.Context, msg *upstream.Message)
}

// Options configures one session.
type Options struct {
	Role        upstream.Role
	AppID       int
	AppHash     string
	BotToken    string
	SessionPath string
}

func New(opts Options) *Client {
	return &Client{
		role:        opts.Role,
		appID:       opts.AppID,
		appHash:     opts.AppHash,
		botToken:    opts.BotToken,
		sessionPath: opts.SessionPath,
	}
}

func (c *Client) Role() upstream.Role { return c.role }

// Connect brings the session up and, for the writer, performs the bot-token
// login when the stored session is not yet authorized.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.connected {
		return nil
	}
	if dir := filepath.Dir(c.sessionPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create sessions dir: %w", err)
		}
	}

	dispatcher := tg.NewUpdateDispatcher()
	dispatcher.OnNewChannelMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewChannelMessage) error {
		c.dispatchUpdate(ctx, e, u.Message)
		return nil
	})

	c.tc = telegram.NewClient(c.appID, c.appHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: c.sessionPath},
		UpdateHandler:  dispatcher,
	})

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ready := make(chan error, 1)
	done := make(chan struct{})

	go func() {
		defer close(done)
		err := c.tc.Run(runCtx, func(ctx context.Context) error {
			if c.role == upstream.RoleWriter && c.botToken != "" {
				status, err := c.tc.Auth().Status(ctx)
				if err != nil {
					return fmt.Errorf("auth status: %w", err)
				}
				if !status.Authorized {
					if _, err := c.tc.Auth().Bot(ctx, c.botToken); err != nil {
						return fmt.Errorf("bot login: %w", err)
					}
				}
			}
			select {
			case ready <- nil:
			default:
			}
			<-ctx.Done()
			return ctx.Err()
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			select {
			case ready <- err:
			default:
				slog.Error("session terminated", "role", c.role, "error", err)
			}
		}
	}()

	select {
	case err := <-ready:
		if err != nil {
			cancel()
			<-done
			return err
		}
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}

	c.api = c.tc.API()
	c.cancelRun = cancel
	c.runDone = done
	c.connected = true
	slog.Info("session connected", "role", c.role)
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil
	}
	c.cancelRun()
	<-c.runDone
	c.connected = false
	return nil
}

// EnsureConnected reconnects if needed. On a corrupt session file it wipes
// the file and its sidecars and rebuilds the session in place; registered
// update handlers stay attached because they live on this Client, not on the
// inner connection.
func (c *Client) EnsureConnected(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return false, nil
	}
	err := c.connectLocked(ctx)
	if err == nil {
		return false, nil
	}
	if !upstream.IsSessionCorrupt(err) {
		return false, err
	}

	slog.Warn("session storage corrupt, rebuilding", "role", c.role, "path", c.sessionPath, "error", err)
	c.teardownLocked()
	removeSessionFiles(c.sessionPath)
	if err := c.connectLocked(ctx); err != nil {
		return true, fmt.Errorf("reconnect after session rebuild: %w", err)
	}
	return true, nil
}

func (c *Client) teardownLocked() {
	if c.cancelRun != nil {
		c.cancelRun()
		if c.runDone != nil {
			<-c.runDone
		}
	}
	c.cancelRun = nil
	c.runDone = nil
	c.connected = false
}

func removeSessionFiles(path string) {
	for _, p := range []string{path, path + "-journal", path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			slog.Warn("remove session file", "path", p, "error", err)
		}
	}
}

// IsAuthorized reports whether the session holds a live login.
func (c *Client) IsAuthorized(ctx context.Context) (bool, error) {
	c.mu.Lock()
	tc, connected := c.tc, c.connected
	c.mu.Unlock()
	if !connected {
		return false, nil
	}
	status, err := tc.Auth().Status(ctx)
	if err != nil {
		return false, err
	}
	return status.Authorized, nil
}

// OnNewMessage registers a new-message handler. Registration is permanent
// for the process lifetime and survives session rebuilds.
func (c *Client) OnNewMessage(fn func(ctx context.Context, msg *upstream.Message)) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers = append(c.handlers, fn)
}

func (c *Client) dispatchUpdate(ctx context.Context, e tg.Entities, raw tg.MessageClass) {
	msg := convertMessage(raw)
	if msg == nil {
		return
	}
	if ch := channelOf(e, raw); ch != nil {
		msg.ChatID = peerIDOf(ch.ID)
		c.hashes.Store(msg.ChatID, ch.AccessHash)
	}

	c.handlersMu.Lock()
	handlers := append([]func(ctx context.Context, msg *upstream.Message){}, c.handlers...)
	c.handlersMu.Unlock()
	for _, fn := range handlers {
		fn(ctx, msg)
	}
}

func channelOf(e tg.Entities, raw tg.MessageClass) *tg.Channel {
	m, ok := raw.(*tg.Message)
	if !ok {
		if ms, ok := raw.(*tg.MessageService); ok {
			if p, ok := ms.PeerID.(*tg.PeerChannel); ok {
				return e.Channels[p.ChannelID]
			}
		}
		return nil
	}
	if p, ok := m.PeerID.(*tg.PeerChannel); ok {
		return e.Channels[p.ChannelID]
	}
	return nil
}
