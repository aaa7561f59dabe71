package broadcast

import (
	"errors"
	"fmt"
	"strings"
	"time"

	kit "dailycast/internal/transport"
)

// Message is the payload of one pass. At most one of CopyOf and Poll is
// set; when neither is, Text is sent.
type Message struct {
	Text           string
	ParseMode      string
	DisablePreview bool

	// Poll is posted instead of Text.
	Poll *kit.Poll
	// CopyOf copies an existing message, media and caption included.
	CopyOf *kit.MessageRef
}

type Kind int

const (
	Delivered Kind = iota
	RecipientGone
	TransientFailure
)

func (k Kind) String() string {
	switch k {
	case Delivered:
		return "delivered"
	case RecipientGone:
		return "gone"
	case TransientFailure:
		return "transient"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is the classified result of one delivery attempt.
// RetryAfter is set only for throttles, which are TransientFailure.
type Outcome struct {
	Kind       Kind
	RetryAfter time.Duration
	Err        error
}

func (o Outcome) Throttled() bool { return o.Kind == TransientFailure && o.RetryAfter > 0 }

// Report aggregates one pass.
// Delivered + Gone + Transient + Skipped == Total always holds.
type Report struct {
	ID         string
	Name       string
	StartedAt  time.Time
	Duration   time.Duration
	Total      int
	Delivered  int
	Gone       int
	Transient  int
	Skipped    int
	Incomplete bool
}

// Summary renders the report for the operator chat.
func (r Report) Summary() string {
	var b strings.Builder
	title := "Broadcast"
	if r.Name != "" {
		title = "Broadcast " + r.Name
	}
	if r.Incomplete {
		fmt.Fprintf(&b, "%s stopped early after %s\n\n", title, r.Duration.Round(time.Second))
	} else {
		fmt.Fprintf(&b, "%s completed in %s\n\n", title, r.Duration.Round(time.Second))
	}
	fmt.Fprintf(&b, "Total: %d\n", r.Total)
	fmt.Fprintf(&b, "Delivered: %d\n", r.Delivered)
	fmt.Fprintf(&b, "Removed (blocked/deleted): %d\n", r.Gone)
	fmt.Fprintf(&b, "Failed: %d", r.Transient)
	if r.Skipped > 0 {
		fmt.Fprintf(&b, "\nSkipped: %d", r.Skipped)
	}
	return b.String()
}

// Progress is a snapshot emitted during a pass.
type Progress struct {
	Name      string
	Processed int
	Delivered int
	Gone      int
	Transient int
	Skipped   int
	Elapsed   time.Duration
}

// Observer receives progress during a pass. Calls are made on the pass goroutine.
type Observer interface {
	Progress(p Progress)
}

type ObserverFunc func(p Progress)

func (f ObserverFunc) Progress(p Progress) { f(p) }

// Recorder receives per-outcome and per-pass measurements.
type Recorder interface {
	Outcome(name string, k Kind)
	Pass(r Report)
}

type nopRecorder struct{}

func (nopRecorder) Outcome(string, Kind) {}
func (nopRecorder) Pass(Report)          {}

// ErrDirectorySource wraps an error produced by the recipient sequence.
var ErrDirectorySource = errors.New("broadcast: recipient source failed")
