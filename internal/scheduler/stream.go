package scheduler

import (
	"context"
	"errors"
	"fmt"

	"dailycast/internal/broadcast"
	"dailycast/internal/content"
	"dailycast/internal/directory"
	kit "dailycast/internal/transport"
	logx "dailycast/pkg/logx"
)

// ChannelSender posts to a single chat. *broadcast.Sender satisfies it.
type ChannelSender interface {
	SendTo(ctx context.Context, to kit.ChatTarget, msg broadcast.Message) broadcast.Outcome
}

// Stream is one content stream's pass: where content comes from and where it goes.
type Stream struct {
	Name   string
	Source content.Source

	// Channel is posted to when non-zero.
	Channel kit.ChatTarget
	// Broadcast sends to every directory recipient when set.
	Broadcast bool

	Sender    ChannelSender
	Engine    *broadcast.Engine
	Directory directory.Directory
	Log       logx.Logger
}

// Result describes one completed pass.
type Result struct {
	ContentID string
	Posted    bool
	Report    *broadcast.Report
}

var ErrChannelPost = errors.New("scheduler: channel post failed")

// Pass runs the stream once. A failed channel post or an incomplete
// broadcast is an error; a content item is marked seen once it reached at
// least one target.
func (s *Stream) Pass(ctx context.Context) (Result, error) {
	var res Result
	item, err := s.Source.Next(ctx)
	if err != nil {
		return res, fmt.Errorf("fetch content: %w", err)
	}
	res.ContentID = item.ID
	msg := broadcast.Message{Text: item.Text, ParseMode: item.ParseMode, DisablePreview: item.DisablePreview, Poll: item.Poll}

	if s.Channel.ChatID != 0 {
		out := s.Sender.SendTo(ctx, s.Channel, msg)
		if out.Kind != broadcast.Delivered {
			cause := out.Err
			if cause == nil {
				cause = errors.New(out.Kind.String())
			}
			return res, fmt.Errorf("%w: chat %d: %w", ErrChannelPost, s.Channel.ChatID, cause)
		}
		res.Posted = true
	}

	var passErr error
	if s.Broadcast && s.Directory != nil && s.Engine != nil {
		rep, err := s.Engine.Run(ctx, s.Name, msg, s.Directory.Active(ctx))
		res.Report = &rep
		passErr = err
	}

	if res.Posted || (res.Report != nil && res.Report.Delivered > 0) {
		if m, ok := s.Source.(content.Marker); ok {
			if err := m.MarkSeen(ctx, item.ID); err != nil {
				s.log().Warn("persist seen id failed", logx.String("stream", s.Name), logx.Err(err))
			}
		}
	}
	return res, passErr
}

func (s *Stream) log() logx.Logger {
	if s.Log.IsZero() {
		return logx.Nop()
	}
	return s.Log
}
