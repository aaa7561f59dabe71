package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	FromName     string
	Text         string
	// ReplyText is the text (or caption) of the message this one replies to.
	ReplyText string
	// ReplyTo points at the replied message so it can be copied with its media.
	ReplyTo   *MessageRef
	IsPrivate bool
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Poll is a poll to post. A quiz has exactly one correct option and shows
// Explanation once answered.
type Poll struct {
	Question      string
	Options       []string
	Quiz          bool
	CorrectOption int
	Explanation   string
	// Public shows voters; polls are anonymous otherwise.
	Public bool
}

// Adapter is the messaging transport. SendText, SendPoll and CopyMessage
// are the send primitives the broadcast engine drives; their errors are
// expressed in this package's terms (ErrRecipientGone, *ThrottleError) so
// callers never depend on the underlying client library.
//
// SendText splits text longer than one message and sends the parts in
// order. SplitText exposes that split so a caller can send and retry the
// parts one at a time.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SplitText(text, parseMode string) []string
	SendPoll(ctx context.Context, to ChatTarget, poll Poll) (MessageRef, error)
	CopyMessage(ctx context.Context, to ChatTarget, from MessageRef) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
}

// ErrRecipientGone reports that the target can never be reached again
// (account deactivated, bot blocked, invalid peer).
var ErrRecipientGone = errors.New("recipient gone")

// ThrottleError is returned when the API asks the caller to wait before sending again.
type ThrottleError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *ThrottleError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("throttled (retry after %s): %v", e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("throttled (retry after %s)", e.RetryAfter)
}

func (e *ThrottleError) Unwrap() error { return e.Err }

// GoneError wraps the transport error that made a recipient unreachable.
// errors.Is(err, ErrRecipientGone) is true for it.
type GoneError struct {
	Reason string
	Err    error
}

func (e *GoneError) Error() string {
	if e.Err != nil {
		return "recipient gone (" + e.Reason + "): " + e.Err.Error()
	}
	return "recipient gone (" + e.Reason + ")"
}

func (e *GoneError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrRecipientGone}
	}
	return []error{ErrRecipientGone, e.Err}
}
