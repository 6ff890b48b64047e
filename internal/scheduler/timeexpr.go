package scheduler

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidTime is returned for a localtime string that does not parse.
var ErrInvalidTime = errors.New("invalid time expression")

// Kind is the type of a parsed time expression.
type Kind string

const (
	KindRecur     Kind = "recur"     // weekly on selected days
	KindRecurRand Kind = "recurRand" // weekly with a random offset
	KindTimer     Kind = "t1"        // relative timer, optionally repeating
	KindAbsolute  Kind = "abs"       // one date and time
)

// RepeatForever marks a timer that re-arms without limit.
const RepeatForever = -1

// TimeExpr is a parsed localtime value.
type TimeExpr struct {
	Raw  string `json:"raw"`
	Kind Kind   `json:"kind"`

	// Weekdays is the Hue bitmask: bit 6 is Monday, bit 0 is Sunday.
	Weekdays int `json:"weekdays,omitempty"`
	Hour     int `json:"hour"`
	Minute   int `json:"minute"`
	Second   int `json:"second"`

	// Random is the jitter window of recurRand.
	Random time.Duration `json:"random,omitempty"`

	// Offset and Repeat describe a timer. Repeat 0 fires once.
	Offset time.Duration `json:"offset,omitempty"`
	Repeat int           `json:"repeat,omitempty"`

	// Year, Month and Day date an absolute expression.
	Year  int        `json:"year,omitempty"`
	Month time.Month `json:"month,omitempty"`
	Day   int        `json:"day,omitempty"`
}

var (
	// W127/T06:30:00 and W127/T06:30:00A00:30:00
	recurPattern = regexp.MustCompile(`^W(\d{1,3})/T(\d{2}):(\d{2}):(\d{2})(?:A(\d{2}):(\d{2}):(\d{2}))?$`)
	// PT00:10:00, R/PT00:10:00, R05/PT00:10:00
	timerPattern = regexp.MustCompile(`^(?:R(\d{0,2})/)?PT(\d{2}):(\d{2}):(\d{2})$`)
	// 2024-06-01T07:00:00
	absolutePattern = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})T(\d{2}):(\d{2}):(\d{2})$`)
)

// ParseTimeExpr parses a Hue localtime string.
func ParseTimeExpr(expr string) (*TimeExpr, error) {
	expr = strings.TrimSpace(expr)

	if m := recurPattern.FindStringSubmatch(expr); m != nil {
		mask, _ := strconv.Atoi(m[1])
		if mask < 1 || mask > 127 {
			return nil, fmt.Errorf("%w: weekday mask %d out of range", ErrInvalidTime, mask)
		}
		h, mi, s, err := clock(m[2], m[3], m[4])
		if err != nil {
			return nil, err
		}
		te := &TimeExpr{Raw: expr, Kind: KindRecur, Weekdays: mask, Hour: h, Minute: mi, Second: s}
		if m[5] != "" {
			te.Kind = KindRecurRand
			te.Random = hms(m[5], m[6], m[7])
		}
		return te, nil
	}

	if m := timerPattern.FindStringSubmatch(expr); m != nil {
		te := &TimeExpr{Raw: expr, Kind: KindTimer, Offset: hms(m[2], m[3], m[4])}
		if strings.HasPrefix(expr, "R") {
			te.Repeat = RepeatForever
			if m[1] != "" {
				n, _ := strconv.Atoi(m[1])
				if n > 0 {
					te.Repeat = n
				}
			}
		}
		if te.Offset <= 0 {
			return nil, fmt.Errorf("%w: empty timer %q", ErrInvalidTime, expr)
		}
		return te, nil
	}

	if m := absolutePattern.FindStringSubmatch(expr); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		if month < 1 || month > 12 || day < 1 || day > 31 {
			return nil, fmt.Errorf("%w: invalid date %q", ErrInvalidTime, expr)
		}
		h, mi, s, err := clock(m[4], m[5], m[6])
		if err != nil {
			return nil, err
		}
		return &TimeExpr{
			Raw: expr, Kind: KindAbsolute,
			Year: year, Month: time.Month(month), Day: day,
			Hour: h, Minute: mi, Second: s,
		}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrInvalidTime, expr)
}

func clock(hs, ms, ss string) (h, m, s int, err error) {
	h, _ = strconv.Atoi(hs)
	m, _ = strconv.Atoi(ms)
	s, _ = strconv.Atoi(ss)
	if h > 23 || m > 59 || s > 59 {
		return 0, 0, 0, fmt.Errorf("%w: invalid time of day %s:%s:%s", ErrInvalidTime, hs, ms, ss)
	}
	return h, m, s, nil
}

func hms(hs, ms, ss string) time.Duration {
	h, _ := strconv.Atoi(hs)
	m, _ := strconv.Atoi(ms)
	s, _ := strconv.Atoi(ss)
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second
}

// IsRecurring reports whether the expression maps to a cron job.
func (te *TimeExpr) IsRecurring() bool {
	return te.Kind == KindRecur || te.Kind == KindRecurRand
}

// CronSpec renders a recurring expression as a six-field cron spec
// (seconds first). jitter is added to the base time and may roll the
// occurrence over to the following days.
func (te *TimeExpr) CronSpec(jitter time.Duration) string {
	total := te.Hour*3600 + te.Minute*60 + te.Second + int(jitter/time.Second)
	shift := total / 86400
	total %= 86400
	h, m, s := total/3600, (total%3600)/60, total%60

	var days []int
	for bit := 0; bit < 7; bit++ {
		if te.Weekdays&(1<<bit) == 0 {
			continue
		}
		// bit 0 is Sunday (cron 0), bit 6 is Monday (cron 1)
		dow := (7 - bit) % 7
		days = append(days, (dow+shift)%7)
	}
	sort.Ints(days)
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(d)
	}
	return fmt.Sprintf("%d %d %d * * %s", s, m, h, strings.Join(parts, ","))
}

// At returns the time of an absolute expression in loc.
func (te *TimeExpr) At(loc *time.Location) time.Time {
	return time.Date(te.Year, te.Month, te.Day, te.Hour, te.Minute, te.Second, 0, loc)
}

// String returns the original expression string.
func (te *TimeExpr) String() string {
	return te.Raw
}
