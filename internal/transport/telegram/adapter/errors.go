package adapter

import (
	"errors"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "dailycast/internal/transport"
)

// goneErrors are the Bot API conditions after which a private chat can never
// receive messages again.
var goneErrors = []struct {
	err    error
	reason string
}{
	{tele.ErrBlockedByUser, "blocked"},
	{tele.ErrUserIsDeactivated, "deactivated"},
	{tele.ErrNotStartedByUser, "not_started"},
	{tele.ErrChatNotFound, "chat_not_found"},
	{tele.ErrKickedFromGroup, "kicked"},
	{tele.ErrKickedFromSuperGroup, "kicked"},
	{tele.ErrKickedFromChannel, "kicked"},
}

// translateError maps telebot errors onto the transport error taxonomy.
// Unknown errors are returned unchanged.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	var flood tele.FloodError
	if errors.As(err, &flood) {
		return throttle(flood.RetryAfter, err)
	}
	var floodPtr *tele.FloodError
	if errors.As(err, &floodPtr) && floodPtr != nil {
		return throttle(floodPtr.RetryAfter, err)
	}

	for _, g := range goneErrors {
		if errors.Is(err, g.err) {
			return &kit.GoneError{Reason: g.reason, Err: err}
		}
	}

	// Descriptions telebot does not map onto a sentinel.
	var apiErr *tele.Error
	if errors.As(err, &apiErr) && apiErr != nil {
		desc := strings.ToLower(apiErr.Description)
		switch {
		case apiErr.Code == 429:
			return throttle(1, err)
		case strings.Contains(desc, "peer_id_invalid"), strings.Contains(desc, "user is deactivated"),
			strings.Contains(desc, "bot was blocked"), strings.Contains(desc, "chat not found"):
			return &kit.GoneError{Reason: "invalid_peer", Err: err}
		case apiErr.Code == 403:
			return &kit.GoneError{Reason: "forbidden", Err: err}
		}
	}
	return err
}

// throttle never reports a zero wait; a throttle without a usable delay waits one second.
func throttle(seconds int, err error) *kit.ThrottleError {
	if seconds <= 0 {
		seconds = 1
	}
	return &kit.ThrottleError{RetryAfter: time.Duration(seconds) * time.Second, Err: err}
}
