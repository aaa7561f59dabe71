package app

import (
	"fmt"
	"strings"
	"time"

	"dailycast/internal/config"
	"dailycast/internal/schedule"
)

// StreamWake is the next scheduled pass of one stream.
type StreamWake struct {
	Name     string
	At       time.Time
	Schedule string
}

// NextWakes computes the next pass of every enabled stream (or only the named
// one) without starting anything.
func NextWakes(cfg *config.Config, only string, now time.Time) ([]StreamWake, error) {
	var out []StreamWake
	for _, sc := range cfg.Streams {
		if !sc.IsEnabled() || (only != "" && sc.Name != only) {
			continue
		}
		tz := sc.Timezone
		if strings.TrimSpace(tz) == "" {
			tz = cfg.Scheduler.Timezone
		}
		s, err := schedule.Parse(tz, sc.Times)
		if err != nil {
			return nil, fmt.Errorf("stream %s: %w", sc.Name, err)
		}
		out = append(out, StreamWake{Name: sc.Name, At: s.NextWake(now), Schedule: s.String()})
	}
	if only != "" && len(out) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStream, only)
	}
	return out, nil
}
