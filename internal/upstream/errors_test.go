package upstream

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestWithFloodRetry(t *testing.T) {
	var slept []time.Duration
	sleeper = func(d time.Duration) { slept = append(slept, d) }
	defer func() { sleeper = time.Sleep }()

	t.Run("retries once after sleeping n+1", func(t *testing.T) {
		slept = nil
		calls := 0
		err := WithFloodRetry(func() error {
			calls++
			if calls == 1 {
				return &FloodWaitError{Seconds: 4}
			}
			return nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if calls != 2 {
			t.Fatalf("calls=%d, want 2", calls)
		}
		if len(slept) != 1 || slept[0] != 5*time.Second {
			t.Fatalf("slept %v, want one 5s sleep", slept)
		}
	})

	t.Run("second flood wait surfaces", func(t *testing.T) {
		slept = nil
		err := WithFloodRetry(func() error {
			return fmt.Errorf("send: %w", &FloodWaitError{Seconds: 2})
		})
		if _, ok := AsFloodWait(err); !ok {
			t.Fatalf("expected flood wait to surface, got %v", err)
		}
		if len(slept) != 1 {
			t.Fatalf("slept %d times, want 1", len(slept))
		}
	})

	t.Run("other errors pass through without sleeping", func(t *testing.T) {
		slept = nil
		sentinel := errors.New("boom")
		if err := WithFloodRetry(func() error { return sentinel }); !errors.Is(err, sentinel) {
			t.Fatalf("got %v", err)
		}
		if len(slept) != 0 {
			t.Fatal("should not sleep on non-flood errors")
		}
	})
}

func TestIsChannelUnavailable(t *testing.T) {
	unavailable := []error{
		errors.New("ChannelPrivateError: the channel is private"),
		errors.New("rpc error: CHAT_ADMIN_REQUIRED"),
		fmt.Errorf("send: %w", errors.New("you have no rights to post here")),
		errors.New("Forbidden: bot was kicked"),
	}
	for _, err := range unavailable {
		if !IsChannelUnavailable(err) {
			t.Errorf("should be unavailable: %v", err)
		}
	}

	available := []error{
		nil,
		errors.New("context deadline exceeded"),
		&FloodWaitError{Seconds: 3},
	}
	for _, err := range available {
		if IsChannelUnavailable(err) {
			t.Errorf("should not be unavailable: %v", err)
		}
	}
}

func TestIsSessionCorrupt(t *testing.T) {
	if !IsSessionCorrupt(errors.New("query failed: no such table: sessions")) {
		t.Fatal("missing sessions table should read as corrupt")
	}
	if !IsSessionCorrupt(errors.New("open: file is not a database")) {
		t.Fatal("non-database file should read as corrupt")
	}
	if IsSessionCorrupt(errors.New("connection reset by peer")) {
		t.Fatal("network errors are not corruption")
	}
}

func TestMessageInTopic(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		tid  int64
		want bool
	}{
		{"reply inside topic", Message{ID: 50, ReplyToMsgID: 42, ReplyToTopID: 10}, 10, true},
		{"reply in other topic", Message{ID: 50, ReplyToMsgID: 42, ReplyToTopID: 11}, 10, false},
		{"direct reply to root", Message{ID: 50, ReplyToMsgID: 10, ReplyIsForumTopic: true}, 10, true},
		{"topic root itself", Message{ID: 10}, 10, true},
		{"unrelated message", Message{ID: 99}, 10, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.msg.InTopic(tt.tid); got != tt.want {
				t.Fatalf("InTopic=%v, want %v", got, tt.want)
			}
		})
	}
}

func TestMessageCloneable(t *testing.T) {
	if (&Message{Kind: KindService, Text: "joined"}).Cloneable() {
		t.Fatal("service messages are not cloneable")
	}
	if (&Message{Kind: KindText, Deleted: true, Text: "x"}).Cloneable() {
		t.Fatal("deleted messages are not cloneable")
	}
	if (&Message{Kind: KindText}).Cloneable() {
		t.Fatal("empty text is not cloneable")
	}
	if !(&Message{Kind: KindText, Text: "hi"}).Cloneable() {
		t.Fatal("text should be cloneable")
	}
}
