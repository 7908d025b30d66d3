package upstream

import "context"

// Role distinguishes the two sessions. The reader is a real user account and
// may iterate arbitrary histories; the writer is the service identity that
// posts to target channels and holds the admin seats.
type Role string

const (
	RoleReader Role = "reader"
	RoleWriter Role = "writer"
)

// Kind tags the message variant. Cloneability and album collection depend
// only on this tag and a few scalar fields.
type Kind int

const (
	KindService Kind = iota
	KindText
	KindMedia
)

// Message is the provider-neutral view of one chat message.
type Message struct {
	ID     int64
	ChatID int64
	Kind   Kind

	Text string
	// Entities carries provider-specific formatting, passed through verbatim
	// on re-send. Opaque to everything outside the provider adapter.
	Entities any

	// GroupedID links album members; zero for standalone messages.
	GroupedID int64

	// Topic-threading fields. ReplyToTopID is set for replies inside a forum
	// topic; ReplyIsForumTopic marks a direct reply to the topic root.
	ReplyToMsgID      int64
	ReplyToTopID      int64
	ReplyIsForumTopic bool

	Deleted bool
	Media   Media
}

// InTopic reports whether the message belongs to the forum topic with the
// given root message id.
func (m *Message) InTopic(topicID int64) bool {
	if m.ReplyToTopID != 0 {
		return m.ReplyToTopID == topicID
	}
	if m.ReplyIsForumTopic {
		return m.ReplyToMsgID == topicID
	}
	return m.ID == topicID && m.ReplyToMsgID == 0
}

// Cloneable reports whether the message carries content worth mirroring.
func (m *Message) Cloneable() bool {
	if m.Kind == KindService || m.Deleted {
		return false
	}
	return m.Media != nil || m.Text != ""
}

// Media is an opaque handle on a message attachment. The adapter keeps the
// original media object inside so a direct re-send can reuse the upstream
// file reference without a download round-trip.
type Media interface {
	MimeType() string
	FileName() string
	IsVideo() bool
	// HasThumb reports whether a distinct thumbnail exists upstream.
	HasThumb() bool
}

// Entity is a resolved peer.
type Entity struct {
	ID          int64
	Title       string
	Username    string
	IsBroadcast bool
	IsMegagroup bool
	IsForum     bool
}

// Permissions is the subset of chat rights the pool cares about.
type Permissions struct {
	IsAdmin   bool
	IsCreator bool
}

// ForumTopic is one thread of a forum source group.
type ForumTopic struct {
	TopicID int64
	Title   string
}

// IterOptions shapes a history scan.
type IterOptions struct {
	// Reverse iterates oldest-to-newest.
	Reverse bool
	// MinID excludes messages with id <= MinID.
	MinID int64
	// MaxID excludes messages with id >= MaxID when non-zero.
	MaxID int64
	// Limit caps the number of yielded messages; zero means unbounded.
	Limit int
}

// DownloadResult locates media fetched into a scoped temp directory.
type DownloadResult struct {
	Path      string
	ThumbPath string
}

// Client is one upstream session. Both sessions implement the same surface;
// call sites pick by Role.
type Client interface {
	Role() Role

	Connect(ctx context.Context) error
	Close() error

	// IsAuthorized reports whether the session holds a live login.
	IsAuthorized(ctx context.Context) (bool, error)

	// EnsureConnected reconnects if needed. When the local session storage is
	// corrupt it deletes the session file and its sidecars, rebuilds the
	// session in place, and reports healed=true. Subscriptions registered via
	// OnNewMessage survive the rebuild.
	EnsureConnected(ctx context.Context) (healed bool, err error)

	// Resolve maps a normalized reference to a peer.
	Resolve(ctx context.Context, ref Ref) (*Entity, error)

	// IterMessages streams history for peer, calling fn per message. An error
	// from fn stops the scan and is returned as-is.
	IterMessages(ctx context.Context, peer int64, opts IterOptions, fn func(*Message) error) error

	// GetMessages fetches specific ids; missing ids yield nil slots.
	GetMessages(ctx context.Context, peer int64, ids []int64) ([]*Message, error)

	ForwardMessages(ctx context.Context, from, to int64, ids []int64, dropAuthor bool) error
	SendMessage(ctx context.Context, peer int64, text string, entities any) error

	// SendMedia re-sends a media object by upstream reference.
	SendMedia(ctx context.Context, peer int64, media Media, caption string, entities any) error

	// DownloadMedia fetches the attachment, and its thumbnail when distinct,
	// into dir.
	DownloadMedia(ctx context.Context, media Media, dir string) (*DownloadResult, error)

	// SendFile uploads a local file and sends it, preserving the attributes
	// of the media it came from.
	SendFile(ctx context.Context, peer int64, res *DownloadResult, media Media, caption string, entities any) error

	EditChannelTitle(ctx context.Context, chat int64, title string) error

	// RefreshChannel forces a full-channel round-trip, defeating the local
	// entity cache that would otherwise certify a dead channel.
	RefreshChannel(ctx context.Context, chat int64) error

	SelfPermissions(ctx context.Context, chat int64) (*Permissions, error)

	GetForumTopics(ctx context.Context, chat int64, offsetTopic int64, limit int) ([]ForumTopic, int64, error)

	// OnNewMessage registers a handler for new channel/group messages.
	// Reader-side only; the registration survives session rebuilds.
	OnNewMessage(fn func(ctx context.Context, msg *Message))
}
