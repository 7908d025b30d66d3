package store

// Job statuses. pending → running → {done | failed | stopping} → stopped,
// with pending ↔ running cycling on retry. The recovery worker is the only
// mutator out of running; every other transition happens through explicit
// operator commands.
const (
	JobPending  = "pending"
	JobRunning  = "running"
	JobStopping = "stopping"
	JobStopped  = "stopped"
	JobDone     = "done"
	JobFailed   = "failed"
)

// SourceGroup is a forum supergroup the reader account can see.
type SourceGroup struct {
	ID        int64
	ChatID    int64
	Title     string
	Enabled   bool
	CreatedAt string
	UpdatedAt string
}

// Topic is a thread inside a forum source group, identified by the id of its
// root message. Topics are disabled by default; the operator opts each one in.
type Topic struct {
	ID            int64
	SourceGroupID int64
	TopicID       int64
	Title         string
	Enabled       bool
	CreatedAt     string
	UpdatedAt     string
}

// Channel is a broadcast channel tracked by the pool. A row is either an
// available standby (is_standby, not in_use), bound (in_use, not standby), or
// tracked-but-unavailable (neither).
type Channel struct {
	ID           int64
	ChatID       int64
	Title        string
	IsStandby    bool
	InUse        bool
	ConsumedAt   *string
	AdminCheckAt *string
	LastSeenAt   string
	CreatedAt    string
	UpdatedAt    string
}

// TopicBinding links a (source group, topic) pair to its target channel.
type TopicBinding struct {
	ID            int64
	SourceGroupID int64
	TopicID       int64
	ChannelChatID int64
	Active        bool
	CreatedAt     string
	UpdatedAt     string

	// Joined titles, populated by the list queries.
	TopicTitle   string
	SourceTitle  string
	ChannelTitle string
}

// ActiveBinding is a binding joined with the enabled flags the monitor and
// the live listener need for filtering.
type ActiveBinding struct {
	TopicBinding
	SourceChatID  int64
	SourceEnabled bool
	TopicEnabled  bool
}

// BannedChannel records a target channel that failed an access check for a
// specific (source group, topic) binding.
type BannedChannel struct {
	ID            int64
	SourceGroupID int64
	TopicID       int64
	ChannelChatID int64
	Reason        string
	DetectedAt    string

	SourceTitle string
	TopicTitle  string
}

// RecoveryJob is a durable unit of work that replaces a lost target channel
// and replays topic history from a checkpoint.
type RecoveryJob struct {
	ID                  int64
	SourceGroupID       int64
	TopicID             int64
	OldChannelChatID    int64
	NewChannelChatID    *int64
	Reason              string
	Status              string
	RetryCount          int
	LastClonedMessageID int64
	LastError           string
	CreatedAt           string
	UpdatedAt           string

	SourceTitle string
	TopicTitle  string
}

// DeleteReport counts the rows removed by a source-group cascade delete.
type DeleteReport struct {
	SourceGroups     int `json:"source_groups"`
	Topics           int `json:"topics"`
	TopicBindings    int `json:"topic_bindings"`
	BannedChannels   int `json:"banned_channels"`
	RecoveryQueue    int `json:"recovery_queue"`
	ReleasedChannels int `json:"released_channels"`
	RunningJobs      int `json:"running_jobs"`
}

// ClearQueueReport counts the rows removed by a queue clear.
type ClearQueueReport struct {
	Deleted        int `json:"deleted"`
	SkippedRunning int `json:"skipped_running"`
}
