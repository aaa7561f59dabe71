package content

import (
	"context"
	"errors"
	"fmt"

	logx "dailycast/pkg/logx"
)

// Chain tries each source in order and returns the first item.
type Chain struct {
	sources []Source
	log     logx.Logger
}

func NewChain(log logx.Logger, sources ...Source) *Chain {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Chain{sources: sources, log: log}
}

func (c *Chain) Next(ctx context.Context) (Message, error) {
	var errs []error
	for i, s := range c.sources {
		m, err := s.Next(ctx)
		if err == nil {
			return m, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Message{}, ctxErr
		}
		c.log.Warn("content source failed, trying next", logx.Int("index", i), logx.Err(err))
		errs = append(errs, fmt.Errorf("source %d: %w", i, err))
	}
	if len(errs) == 0 {
		return Message{}, ErrNoContent
	}
	return Message{}, errors.Join(append([]error{ErrNoContent}, errs...)...)
}
