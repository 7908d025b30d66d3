package upstream

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidInput marks malformed refs and empty fields. Never retried.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStopped is the cooperative-cancel marker. Ends a recovery job in
	// stopped; never reported as a failure.
	ErrStopped = errors.New("stopped by request")

	// ErrNoStandby means the pool is empty.
	ErrNoStandby = errors.New("no standby channel available")
)

// FloodWaitError is the retry-after-N signal from the provider.
type FloodWaitError struct {
	Seconds int
}

func (e *FloodWaitError) Error() string {
	return fmt.Sprintf("flood wait %ds", e.Seconds)
}

// AsFloodWait extracts the wait seconds if err carries a flood-wait signal.
func AsFloodWait(err error) (int, bool) {
	var fw *FloodWaitError
	if errors.As(err, &fw) {
		return fw.Seconds, true
	}
	return 0, false
}

// channelUnavailableMarkers matches provider error texts that mean the
// channel is gone for our purposes. Substring matching covers SDK variants
// that wrap typed names in generic errors.
var channelUnavailableMarkers = []string{
	"channelprivateerror",
	"channelinvaliderror",
	"chatadminrequirederror",
	"channel_private",
	"channel_invalid",
	"chat_admin_required",
	"user_not_participant",
	"forbidden",
	"private channel",
	"have no rights",
}

// IsChannelUnavailable reports whether err means the target channel is
// inaccessible, invalid, or the actor lost its rights there.
func IsChannelUnavailable(err error) bool {
	if err == nil {
		return false
	}
	text := strings.ToLower(err.Error())
	for _, marker := range channelUnavailableMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

var sessionCorruptMarkers = []string{
	"no such table: sessions",
	"file is not a database",
	"database disk image is malformed",
	"unexpected end of json",
	"invalid session",
}

// IsSessionCorrupt reports whether err indicates broken local session
// storage, the shape that triggers the self-heal path.
func IsSessionCorrupt(err error) bool {
	if err == nil {
		return false
	}
	text := strings.ToLower(err.Error())
	for _, marker := range sessionCorruptMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// sleeper is replaced in tests.
var sleeper = time.Sleep

// WithFloodRetry runs fn; on a flood-wait signal it sleeps the requested
// seconds plus one and retries exactly once. A second signal surfaces.
func WithFloodRetry(fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}
	secs, ok := AsFloodWait(err)
	if !ok {
		return err
	}
	sleeper(time.Duration(secs+1) * time.Second)
	return fn()
}
