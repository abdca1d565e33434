package schedule

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Kind tags the variant held by a Descriptor.
type Kind int

const (
	KindNone Kind = iota
	KindDaily
	KindOnce
)

func (k Kind) String() string {
	switch k {
	case KindDaily:
		return "daily"
	case KindOnce:
		return "once"
	default:
		return "none"
	}
}

// Descriptor is the structured result of parsing a time expression.
// Hour and Minute are set for KindDaily, When for KindOnce.
type Descriptor struct {
	Kind   Kind
	Hour   int
	Minute int
	When   time.Time
}

// WhenMillis returns When as epoch milliseconds, or 0 when unset.
func (d Descriptor) WhenMillis() int64 {
	if d.When.IsZero() {
		return 0
	}
	return d.When.UnixMilli()
}

var (
	bareClockRe  = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)
	todayClockRe = regexp.MustCompile(`^today\s+(\d{1,2}):(\d{2})$`)
	relativeRe   = regexp.MustCompile(`^in\s+(\d+)\s+(minute|minutes|hour|hours)$`)
	anyClockRe   = regexp.MustCompile(`(\d{1,2}):(\d{2})`)
)

// Parse converts a free-text time phrase into a Descriptor relative to now.
// Patterns are tried in order: bare "HH:mm", "today HH:mm", "in N unit",
// then any "HH:mm" substring. Out-of-range numerics are clamped, never
// rejected; only a structural mismatch yields KindNone.
func Parse(raw string, now time.Time) Descriptor {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return Descriptor{}
	}

	if m := bareClockRe.FindStringSubmatch(s); m != nil {
		hour, minute := clock(m[1], m[2])
		return Descriptor{Kind: KindDaily, Hour: hour, Minute: minute}
	}

	if m := todayClockRe.FindStringSubmatch(s); m != nil {
		hour, minute := clock(m[1], m[2])
		when := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
		if when.Before(now) {
			when = when.AddDate(0, 0, 1)
		}
		return Descriptor{Kind: KindOnce, When: when}
	}

	if m := relativeRe.FindStringSubmatch(s); m != nil {
		unit := time.Minute
		if strings.HasPrefix(m[2], "hour") {
			unit = time.Hour
		}
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil || n > int64(math.MaxInt64/unit) {
			// Counts beyond the Duration range are structurally valid but unrepresentable.
			return Descriptor{}
		}
		return Descriptor{Kind: KindOnce, When: now.Add(time.Duration(n) * unit)}
	}

	if m := anyClockRe.FindStringSubmatch(s); m != nil {
		hour, minute := clock(m[1], m[2])
		return Descriptor{Kind: KindDaily, Hour: hour, Minute: minute}
	}

	return Descriptor{}
}

func clock(hh, mm string) (int, int) {
	h, _ := strconv.Atoi(hh)
	m, _ := strconv.Atoi(mm)
	return min(h, 23), min(m, 59)
}
