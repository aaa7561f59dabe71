// Package content produces the messages streams deliver.
//
// Sources compose: an HTTP source fetches and renders an item, Chain falls
// back through several sources, and Unique filters items already delivered
// using a persisted SeenSet.
package content

import (
	"context"
	"errors"

	kit "dailycast/internal/transport"
)

// Message is one content item. ID identifies the item for dedup; it may be empty.
type Message struct {
	ID        string
	Text      string
	ParseMode string
	// DisablePreview suppresses link previews when sent.
	DisablePreview bool
	// Poll, when set, is posted instead of Text. Text then holds the question.
	Poll *kit.Poll
}

type Source interface {
	Next(ctx context.Context) (Message, error)
}

type SourceFunc func(ctx context.Context) (Message, error)

func (f SourceFunc) Next(ctx context.Context) (Message, error) { return f(ctx) }

var ErrNoContent = errors.New("content: no item available")
