// Package offset parses the short duration notation used for reminder
// timings: a day count suffixed with "j", an hour count with "h" and a
// minute count with "m", in any order ("3j12h45m", "12h", "45m").
package offset

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/noahxzhu/devoir-reminders/internal/model"
)

// ErrInvalid is returned by ParseList for a token Parse rejects.
var ErrInvalid = errors.New("invalid timing")

const day = 24 * time.Hour

var (
	daysRe    = regexp.MustCompile(`(\d+)j`)
	hoursRe   = regexp.MustCompile(`(\d+)h`)
	minutesRe = regexp.MustCompile(`(\d+)m`)
	spaceRe   = regexp.MustCompile(`\s+`)
)

// Parse returns the duration described by text. Only the first match of
// each unit counts and anything else in the string is ignored. The second
// result is false when nothing matched or the total is zero.
func Parse(text string) (time.Duration, bool) {
	s := strings.ToLower(spaceRe.ReplaceAllString(text, ""))

	var total time.Duration
	for _, u := range []struct {
		re   *regexp.Regexp
		unit time.Duration
	}{
		{daysRe, day},
		{hoursRe, time.Hour},
		{minutesRe, time.Minute},
	} {
		m := u.re.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil || n > int64(maxDuration/u.unit) {
			return 0, false
		}
		total += time.Duration(n) * u.unit
		if total < 0 {
			return 0, false
		}
	}

	if total <= 0 {
		return 0, false
	}
	return total, true
}

const maxDuration = time.Duration(1<<63 - 1)

// ParseList parses a comma separated list such as "3j,12h,45m" into rules
// labelled by their own token. Empty tokens are skipped.
func ParseList(text string) ([]model.OffsetRule, error) {
	var rules []model.OffsetRule
	for _, part := range strings.Split(text, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, ok := Parse(part)
		if !ok {
			return nil, fmt.Errorf("%w: %q (expected forms like 3j, 12h, 45m)", ErrInvalid, part)
		}
		rules = append(rules, model.RuleFor(part, d))
	}
	return rules, nil
}

// Format renders d in the same notation, e.g. "3j 12h 45m".
func Format(d time.Duration) string {
	if d < 0 {
		return "—"
	}

	total := int64(d / time.Second)
	seconds := total % 60
	minutes := (total / 60) % 60
	hours := (total / 3600) % 24
	days := total / 86400

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dj", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	if seconds > 0 {
		parts = append(parts, fmt.Sprintf("%ds", seconds))
	}
	if len(parts) == 0 {
		return "0s"
	}
	return strings.Join(parts, " ")
}
