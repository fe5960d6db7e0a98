// Package schedule promotes due work into the dispatch queue and computes
// recurring fire times.
package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Recurrence is the parsed form of a campaign's recurrence expression.
// Supported shapes:
//
//	daily@15:04          fires every day at the given wall-clock time (UTC)
//	weekly@Mon,15:04     fires every week on the given weekday
//	monthly@2,15:04      fires on the given day of month
//	cron:<expression>    standard 5-field cron
type Recurrence struct {
	expr     string
	schedule cron.Schedule
}

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseRecurrence validates and compiles a recurrence expression. Every shape
// is lowered to a cron schedule so Next has one implementation.
func ParseRecurrence(expr string) (*Recurrence, error) {
	spec, err := toCronSpec(expr)
	if err != nil {
		return nil, err
	}
	compiled, err := cronParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid recurrence %q: %w", expr, err)
	}
	return &Recurrence{expr: expr, schedule: compiled}, nil
}

func toCronSpec(expr string) (string, error) {
	if spec, ok := strings.CutPrefix(expr, "cron:"); ok {
		return spec, nil
	}

	kind, arg, ok := strings.Cut(expr, "@")
	if !ok {
		return "", fmt.Errorf("invalid recurrence %q: missing @", expr)
	}

	switch kind {
	case "daily":
		hh, mm, err := parseClock(arg)
		if err != nil {
			return "", fmt.Errorf("invalid recurrence %q: %w", expr, err)
		}
		return fmt.Sprintf("%d %d * * *", mm, hh), nil

	case "weekly":
		day, clock, ok := strings.Cut(arg, ",")
		if !ok {
			return "", fmt.Errorf("invalid recurrence %q: want weekly@Day,HH:MM", expr)
		}
		hh, mm, err := parseClock(clock)
		if err != nil {
			return "", fmt.Errorf("invalid recurrence %q: %w", expr, err)
		}
		return fmt.Sprintf("%d %d * * %s", mm, hh, day), nil

	case "monthly":
		dom, clock, ok := strings.Cut(arg, ",")
		if !ok {
			return "", fmt.Errorf("invalid recurrence %q: want monthly@DOM,HH:MM", expr)
		}
		hh, mm, err := parseClock(clock)
		if err != nil {
			return "", fmt.Errorf("invalid recurrence %q: %w", expr, err)
		}
		return fmt.Sprintf("%d %d %s * *", mm, hh, dom), nil

	default:
		return "", fmt.Errorf("invalid recurrence %q: unknown kind %q", expr, kind)
	}
}

func parseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("bad clock %q", s)
	}
	return t.Hour(), t.Minute(), nil
}

// Next returns the first fire time strictly after t.
func (r *Recurrence) Next(t time.Time) time.Time {
	return r.schedule.Next(t)
}

func (r *Recurrence) String() string { return r.expr }
