// Package upstreamtest provides a configurable in-memory Client for tests.
package upstreamtest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/moeacgx/TelegramAutoClone/internal/upstream"
)

// FakeClient implements upstream.Client over an in-memory message table.
// Behavior hooks override individual calls; unset hooks fall back to the
// in-memory defaults.
type FakeClient struct {
	SessionRole upstream.Role

	mu sync.Mutex
	// Histories maps chat id to its messages, sorted by id.
	Histories map[int64][]*upstream.Message

	// Forwarded records every successful ForwardMessages call.
	Forwarded []ForwardCall
	// Sent records SendMessage/SendMedia/SendFile deliveries.
	Sent []SentCall
	// Titles records EditChannelTitle calls, chat id to latest title.
	Titles map[int64]string

	Authorized bool

	// Hooks.
	ForwardErr    func(to int64, ids []int64) error
	SendErr       func(to int64) error
	PermissionsFn func(chat int64) (*upstream.Permissions, error)
	RefreshErr    func(chat int64) error
	ResolveFn     func(ref upstream.Ref) (*upstream.Entity, error)
	ForumTopicsFn func(chat int64, offset int64, limit int) ([]upstream.ForumTopic, int64, error)
	EditTitleErr  func(chat int64) error
	ConnectFn     func() (bool, error)

	handlers []func(ctx context.Context, msg *upstream.Message)
}

type ForwardCall struct {
	From, To   int64
	IDs        []int64
	DropAuthor bool
}

type SentCall struct {
	To   int64
	Kind string // "text", "media", "file"
	Text string
}

func New() *FakeClient {
	return &FakeClient{
		SessionRole: upstream.RoleReader,
		Histories:   make(map[int64][]*upstream.Message),
		Titles:      make(map[int64]string),
		Authorized:  true,
	}
}

func (f *FakeClient) Role() upstream.Role { return f.SessionRole }

func (f *FakeClient) Connect(ctx context.Context) error { return nil }
func (f *FakeClient) Close() error                      { return nil }

func (f *FakeClient) IsAuthorized(ctx context.Context) (bool, error) {
	return f.Authorized, nil
}

func (f *FakeClient) EnsureConnected(ctx context.Context) (bool, error) {
	if f.ConnectFn != nil {
		return f.ConnectFn()
	}
	return false, nil
}

func (f *FakeClient) Resolve(ctx context.Context, ref upstream.Ref) (*upstream.Entity, error) {
	if f.ResolveFn != nil {
		return f.ResolveFn(ref)
	}
	return nil, fmt.Errorf("fake: no resolver for %s", ref)
}

func (f *FakeClient) IterMessages(ctx context.Context, peer int64, opts upstream.IterOptions, fn func(*upstream.Message) error) error {
	f.mu.Lock()
	history := append([]*upstream.Message{}, f.Histories[peer]...)
	f.mu.Unlock()

	sort.Slice(history, func(i, j int) bool {
		if opts.Reverse {
			return history[i].ID < history[j].ID
		}
		return history[i].ID > history[j].ID
	})

	yielded := 0
	for _, m := range history {
		if opts.MinID > 0 && m.ID <= opts.MinID {
			continue
		}
		if opts.MaxID > 0 && m.ID >= opts.MaxID {
			continue
		}
		if err := fn(m); err != nil {
			return err
		}
		yielded++
		if opts.Limit > 0 && yielded >= opts.Limit {
			return nil
		}
	}
	return nil
}

func (f *FakeClient) GetMessages(ctx context.Context, peer int64, ids []int64) ([]*upstream.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	byID := make(map[int64]*upstream.Message)
	for _, m := range f.Histories[peer] {
		byID[m.ID] = m
	}
	out := make([]*upstream.Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, byID[id])
	}
	return out, nil
}

func (f *FakeClient) ForwardMessages(ctx context.Context, from, to int64, ids []int64, dropAuthor bool) error {
	if f.ForwardErr != nil {
		if err := f.ForwardErr(to, ids); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Forwarded = append(f.Forwarded, ForwardCall{From: from, To: to, IDs: append([]int64{}, ids...), DropAuthor: dropAuthor})
	return nil
}

func (f *FakeClient) SendMessage(ctx context.Context, peer int64, text string, entities any) error {
	if f.SendErr != nil {
		if err := f.SendErr(peer); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Sent = append(f.Sent, SentCall{To: peer, Kind: "text", Text: text})
	return nil
}

func (f *FakeClient) SendMedia(ctx context.Context, peer int64, media upstream.Media, caption string, entities any) error {
	if f.SendErr != nil {
		if err := f.SendErr(peer); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Sent = append(f.Sent, SentCall{To: peer, Kind: "media", Text: caption})
	return nil
}

func (f *FakeClient) DownloadMedia(ctx context.Context, media upstream.Media, dir string) (*upstream.DownloadResult, error) {
	return &upstream.DownloadResult{Path: dir + "/file"}, nil
}

func (f *FakeClient) SendFile(ctx context.Context, peer int64, res *upstream.DownloadResult, media upstream.Media, caption string, entities any) error {
	if f.SendErr != nil {
		if err := f.SendErr(peer); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Sent = append(f.Sent, SentCall{To: peer, Kind: "file", Text: caption})
	return nil
}

func (f *FakeClient) EditChannelTitle(ctx context.Context, chat int64, title string) error {
	if f.EditTitleErr != nil {
		if err := f.EditTitleErr(chat); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Titles[chat] = title
	return nil
}

func (f *FakeClient) RefreshChannel(ctx context.Context, chat int64) error {
	if f.RefreshErr != nil {
		return f.RefreshErr(chat)
	}
	return nil
}

func (f *FakeClient) SelfPermissions(ctx context.Context, chat int64) (*upstream.Permissions, error) {
	if f.PermissionsFn != nil {
		return f.PermissionsFn(chat)
	}
	return &upstream.Permissions{IsAdmin: true}, nil
}

func (f *FakeClient) GetForumTopics(ctx context.Context, chat int64, offsetTopic int64, limit int) ([]upstream.ForumTopic, int64, error) {
	if f.ForumTopicsFn != nil {
		return f.ForumTopicsFn(chat, offsetTopic, limit)
	}
	return nil, 0, nil
}

func (f *FakeClient) OnNewMessage(fn func(ctx context.Context, msg *upstream.Message)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, fn)
}

// Emit delivers a message to every registered handler, simulating a live
// update.
func (f *FakeClient) Emit(ctx context.Context, msg *upstream.Message) {
	f.mu.Lock()
	handlers := append([]func(ctx context.Context, msg *upstream.Message){}, f.handlers...)
	f.mu.Unlock()
	for _, fn := range handlers {
		fn(ctx, msg)
	}
}

// FakeMedia is a stand-in attachment.
type FakeMedia struct {
	Mime  string
	Name  string
	Video bool
	Thumb bool
}

func (m *FakeMedia) MimeType() string { return m.Mime }
func (m *FakeMedia) FileName() string { return m.Name }
func (m *FakeMedia) IsVideo() bool    { return m.Video }
func (m *FakeMedia) HasThumb() bool   { return m.Thumb }
