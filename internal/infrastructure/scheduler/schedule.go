package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// IntervalSchedule runs a job at a fixed interval.
type IntervalSchedule struct {
	Interval time.Duration
}

// Every creates an IntervalSchedule.
func Every(interval time.Duration) *IntervalSchedule {
	return &IntervalSchedule{Interval: interval}
}

// Next returns the next scheduled time.
func (s *IntervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.Interval)
}

// String returns the string representation of the schedule.
func (s *IntervalSchedule) String() string {
	return "@every " + s.Interval.String()
}

// CronSchedule is a parsed 5-field cron expression evaluated in UTC:
// minute hour day-of-month month day-of-week.
//
//	"*/15 * * * *"  every 15 minutes
//	"30 3 * * *"    every day at 03:30
//	"0 0 * * 0"     every Sunday at midnight
type CronSchedule struct {
	raw      string
	minutes  fieldSet
	hours    fieldSet
	days     fieldSet
	months   fieldSet
	weekdays fieldSet
}

// fieldSet marks the allowed values of one cron field.
type fieldSet map[int]bool

// ParseCron parses a cron expression. Each field accepts *, */n, n, n-m,
// n-m/s and comma separated lists of those.
func ParseCron(expr string) (*CronSchedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("invalid cron expression %q: expected 5 fields, got %d", expr, len(fields))
	}

	bounds := [5][2]int{{0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 6}}
	names := [5]string{"minute", "hour", "day", "month", "weekday"}
	sets := make([]fieldSet, 5)
	for i, f := range fields {
		set, err := parseField(f, bounds[i][0], bounds[i][1])
		if err != nil {
			return nil, fmt.Errorf("invalid %s field: %w", names[i], err)
		}
		sets[i] = set
	}

	return &CronSchedule{
		raw:      expr,
		minutes:  sets[0],
		hours:    sets[1],
		days:     sets[2],
		months:   sets[3],
		weekdays: sets[4],
	}, nil
}

func parseField(field string, min, max int) (fieldSet, error) {
	set := make(fieldSet)
	for _, part := range strings.Split(field, ",") {
		if err := parsePart(set, part, min, max); err != nil {
			return nil, err
		}
	}
	return set, nil
}

func parsePart(set fieldSet, part string, min, max int) error {
	step := 1
	if base, s, ok := strings.Cut(part, "/"); ok {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid step %q", s)
		}
		step = n
		part = base
	}

	lo, hi := min, max
	switch {
	case part == "*":
	case strings.Contains(part, "-"):
		a, b, _ := strings.Cut(part, "-")
		var err error
		if lo, err = strconv.Atoi(a); err != nil {
			return fmt.Errorf("invalid range start %q", a)
		}
		if hi, err = strconv.Atoi(b); err != nil {
			return fmt.Errorf("invalid range end %q", b)
		}
	default:
		v, err := strconv.Atoi(part)
		if err != nil {
			return fmt.Errorf("invalid value %q", part)
		}
		lo = v
		if step == 1 {
			hi = v
		}
	}

	if lo < min || hi > max || lo > hi {
		return fmt.Errorf("value out of range [%d-%d]: %q", min, max, part)
	}
	for v := lo; v <= hi; v += step {
		set[v] = true
	}
	return nil
}

// String returns the original cron expression.
func (c *CronSchedule) String() string {
	return c.raw
}

// Next returns the first matching minute strictly after t, or the zero time
// when nothing matches within a year.
func (c *CronSchedule) Next(after time.Time) time.Time {
	t := after.UTC().Truncate(time.Minute).Add(time.Minute)

	const maxIterations = 366 * 24 * 60
	for i := 0; i < maxIterations; i++ {
		if c.matches(t) {
			return t
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}
}

func (c *CronSchedule) matches(t time.Time) bool {
	return c.minutes[t.Minute()] &&
		c.hours[t.Hour()] &&
		c.days[t.Day()] &&
		c.months[int(t.Month())] &&
		c.weekdays[int(t.Weekday())]
}
