package extract

import (
	"regexp"
	"strconv"
	"time"

	"github.com/olebedev/when/rules"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// isoDate matches "2026-12-01", "2026-12-01 17:30" and "2026-12-01T17:30".
var isoDate = regexp.MustCompile(`(?i)(?:\W|^)` +
	`((?:19|20)\d{2})-(0?[1-9]|1[0-2])-(0?[1-9]|[12]\d|3[01])` +
	`(?:[T ]([01]?\d|2[0-3]):([0-5]\d))?` +
	`(?:\W|$)`)

// ISODate resolves a YYYY-MM-DD date with an optional HH:MM time. A date
// without a time resolves to midnight; a later phrase such as "at 5pm" in the
// same cluster still sets the hour.
func ISODate() rules.Rule {
	return &rules.F{
		RegExp: isoDate,
		Applier: func(m *rules.Match, c *rules.Context, _ *rules.Options, ref time.Time) (bool, error) {
			year, _ := strconv.Atoi(m.Captures[0])
			month, _ := strconv.Atoi(m.Captures[1])
			day, _ := strconv.Atoi(m.Captures[2])
			if d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, ref.Location()); d.Day() != day {
				return false, nil
			}

			hour, minute, zero := 0, 0, 0
			if m.Captures[3] != "" {
				hour, _ = strconv.Atoi(m.Captures[3])
				minute, _ = strconv.Atoi(m.Captures[4])
			}
			c.Year, c.Month, c.Day = &year, &month, &day
			c.Hour, c.Minute, c.Second = &hour, &minute, &zero
			return true, nil
		},
	}
}

// outside keeps a rule from matching inside text covered by mask, so the
// "12-01" of "2026-12-01" is not read as 12:01.
type outside struct {
	rule rules.Rule
	mask *regexp.Regexp
}

func (o outside) Find(text string) *rules.Match {
	masked := o.mask.FindAllStringIndex(text, -1)
	for off := 0; off < len(text); {
		m := o.rule.Find(text[off:])
		if m == nil {
			return nil
		}
		m.Left += off
		m.Right += off
		if !overlaps(masked, m.Left, m.Right) {
			m.Text = text[m.Left:m.Right]
			return m
		}
		off = m.Right
	}
	return nil
}

func overlaps(spans [][]int, start, end int) bool {
	for _, s := range spans {
		if start < s[1] && s[0] < end {
			return true
		}
	}
	return false
}

// ruleSet is the English rule set of the parser with ISO dates added in front
// and the hour-minute rule kept out of them.
func ruleSet() []rules.Rule {
	return []rules.Rule{
		ISODate(),
		en.Weekday(rules.Override),
		en.CasualDate(rules.Override),
		en.CasualTime(rules.Override),
		en.Hour(rules.Override),
		outside{rule: en.HourMinute(rules.Override), mask: isoDate},
		en.Deadline(rules.Override),
		en.PastTime(rules.Override),
		en.ExactMonthDate(rules.Override),
		common.SlashDMY(rules.Override),
	}
}
