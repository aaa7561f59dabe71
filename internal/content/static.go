package content

import (
	"context"
	"hash/fnv"
	"math/rand/v2"
	"strconv"
	"strings"

	kit "dailycast/internal/transport"
)

// Static picks uniformly from a fixed list of items.
type Static struct {
	items []Message
	intn  func(n int) int
}

func NewStatic(texts []string, parseMode string) *Static {
	items := make([]Message, 0, len(texts))
	for _, t := range texts {
		if strings.TrimSpace(t) != "" {
			items = append(items, Message{ID: "static:" + textID(t), Text: t, ParseMode: parseMode})
		}
	}
	return &Static{items: items, intn: rand.IntN}
}

// NewStaticPolls picks from fixed polls. Polls without a question or with
// fewer than two options are dropped.
func NewStaticPolls(polls []kit.Poll) *Static {
	items := make([]Message, 0, len(polls))
	for _, p := range polls {
		if strings.TrimSpace(p.Question) == "" || len(p.Options) < 2 {
			continue
		}
		p.Options = append([]string(nil), p.Options...)
		items = append(items, Message{ID: "static:" + textID(p.Question), Text: p.Question, Poll: &p})
	}
	return &Static{items: items, intn: rand.IntN}
}

func (s *Static) Next(ctx context.Context) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	if len(s.items) == 0 {
		return Message{}, ErrNoContent
	}
	m := s.items[s.intn(len(s.items))]
	if m.Poll != nil {
		p := *m.Poll
		p.Options = append([]string(nil), p.Options...)
		m.Poll = &p
	}
	return m, nil
}

func textID(s string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return strconv.FormatUint(h.Sum64(), 16)
}
