// Package schedule computes when a stream wakes next.
package schedule

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
)

// Schedule is a static set of wake rules evaluated in one location.
// It carries no run history: NextWake depends only on its argument.
type Schedule struct {
	loc     *time.Location
	entries []entry
}

type entry struct {
	raw   string
	sched cron.Schedule
}

var ErrEmpty = errors.New("schedule: no entries")

var reTimeOfDay = regexp.MustCompile(`^\s*(\d{1,2}):(\d{2})\s*$`)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Parse builds a Schedule from entries in tz (IANA name; empty means UTC).
//
// Entry forms:
//   - "HH:MM": once a day at that wall-clock time
//   - "cron:<expr>" or a bare crontab expression ("30 7 * * 1-5", "@daily")
//   - "every:<duration>": fixed interval ("every:6h")
func Parse(tz string, raw []string) (Schedule, error) {
	loc, err := LoadLocation(tz)
	if err != nil {
		return Schedule{}, err
	}
	if len(raw) == 0 {
		return Schedule{}, ErrEmpty
	}
	s := Schedule{loc: loc, entries: make([]entry, 0, len(raw))}
	for _, r := range raw {
		sc, err := parseEntry(r, loc)
		if err != nil {
			return Schedule{}, err
		}
		s.entries = append(s.entries, entry{raw: strings.TrimSpace(r), sched: sc})
	}
	return s, nil
}

func LoadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	return loc, nil
}

func parseEntry(raw string, loc *time.Location) (cron.Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, errors.New("schedule entry is empty")
	}
	low := strings.ToLower(s)

	switch {
	case strings.HasPrefix(low, "every:"):
		d, err := time.ParseDuration(strings.TrimSpace(s[len("every:"):]))
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid interval %q (use a Go duration like '6h')", raw)
		}
		return cron.Every(d), nil
	case strings.HasPrefix(low, "cron:"):
		return parseCron(strings.TrimSpace(s[len("cron:"):]), loc)
	case reTimeOfDay.MatchString(s):
		m := reTimeOfDay.FindStringSubmatch(s)
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if hh > 23 || mm > 59 {
			return nil, fmt.Errorf("invalid time of day %q", raw)
		}
		return parseCron(fmt.Sprintf("%d %d * * *", mm, hh), loc)
	case strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@"):
		return parseCron(s, loc)
	}
	return nil, fmt.Errorf("invalid schedule entry %q (use HH:MM, a cron expression, or every:<duration>)", raw)
}

func parseCron(expr string, loc *time.Location) (cron.Schedule, error) {
	if expr == "" {
		return nil, errors.New("cron expression required after 'cron:'")
	}
	sc, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	// Expressions without their own CRON_TZ run in the schedule's location.
	if spec, ok := sc.(*cron.SpecSchedule); ok && spec.Location == time.Local && !strings.HasPrefix(expr, "CRON_TZ=") && !strings.HasPrefix(expr, "TZ=") {
		spec.Location = loc
	}
	return sc, nil
}

// NextWake returns the earliest wake strictly after now.
func (s Schedule) NextWake(now time.Time) time.Time {
	var best time.Time
	for _, e := range s.entries {
		t := e.sched.Next(now)
		if t.IsZero() {
			continue
		}
		if best.IsZero() || t.Before(best) {
			best = t
		}
	}
	if best.IsZero() {
		return best
	}
	return best.In(s.Location())
}

func (s Schedule) Location() *time.Location {
	if s.loc == nil {
		return time.UTC
	}
	return s.loc
}

// Entries returns the normalized entry strings.
func (s Schedule) Entries() []string {
	out := make([]string, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.raw
	}
	return out
}

func (s Schedule) IsZero() bool { return len(s.entries) == 0 }

func (s Schedule) String() string {
	return strings.Join(s.Entries(), ", ") + " (" + s.Location().String() + ")"
}
