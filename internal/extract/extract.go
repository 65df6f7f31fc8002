// Package extract pulls a task description and a due time out of a free-form
// reminder message such as "remind me tomorrow at 5pm to call mom".
package extract

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules"
)

// maxPhrases bounds the repeated search over a single message.
const maxPhrases = 8

// Phrase is a date/time phrase located in the input, with its byte offsets.
type Phrase struct {
	Start int
	End   int
	Text  string
	Time  time.Time
}

// Result is the outcome of an extraction. Time is zero when no phrase was found.
type Result struct {
	Task    string
	Time    time.Time
	Phrases []Phrase
}

// HasTime reports whether a due time was recognised.
func (r Result) HasTime() bool { return !r.Time.IsZero() }

type Extractor struct {
	parser *when.Parser
	now    func() time.Time
}

type Option func(*Extractor)

// WithClock sets the reference clock relative expressions are resolved against.
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) { e.now = now }
}

func New(opts ...Option) *Extractor {
	// Matches at most five bytes apart form one phrase: "tomorrow at 5pm".
	w := when.New(&rules.Options{Distance: 5, MatchByOrder: true})
	w.Add(ruleSet()...)
	e := &Extractor{parser: w, now: time.Now}
	for _, o := range opts {
		o(e)
	}
	return e
}

var (
	// Longer idioms come first so "to" is not stripped out of "remind me to".
	fillers = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bremind\s+me\s+to\b`),
		regexp.MustCompile(`(?i)\bremind\s+me\b`),
		regexp.MustCompile(`(?i)\bto\b`),
		regexp.MustCompile(`(?i)\bat\b`),
		regexp.MustCompile(`(?i)\bin\b`),
		regexp.MustCompile(`(?i)\bon\b`),
		regexp.MustCompile(`(?i)\btomorrow\b`),
		regexp.MustCompile(`(?i)\btoday\b`),
	}
	separators = regexp.MustCompile(`[,:;\-]+`)
	spaces     = regexp.MustCompile(`\s+`)
	pastMarker = regexp.MustCompile(`(?i)\b(ago|last|yesterday|past)\b|\b\d{4}\b`)
)

const edgePunct = " -:;,.!?\n\r\t"

// Extract returns the cleaned, lower-cased task text and the time of the first
// date/time phrase in text order. Blank input yields an empty Result.
func (e *Extractor) Extract(text string) Result {
	if strings.TrimSpace(text) == "" {
		return Result{}
	}
	now := e.now()
	phrases := e.Search(text, now)

	var res Result
	res.Phrases = phrases
	if len(phrases) > 0 {
		res.Time = preferFuture(phrases[0].Time, now, phrases[0].Text).Truncate(time.Second)
	}
	res.Task = clean(removeSpans(text, phrases))
	return res
}

// Search locates every date/time phrase in text. The parser reports only the
// first cluster of matches, so each found span is blanked out and the search
// repeated; offsets therefore always refer to the original text.
func (e *Extractor) Search(text string, base time.Time) []Phrase {
	var phrases []Phrase
	work := text
	for len(phrases) < maxPhrases {
		r, err := e.parser.Parse(work, base)
		if err != nil || r == nil {
			break
		}
		start, end := r.Index, r.Index+len(r.Text)
		if start < 0 || end > len(work) || end <= start {
			break
		}
		work = work[:start] + strings.Repeat(" ", end-start) + work[end:]

		start, end = trimSpan(text, start, end)
		if end <= start {
			continue
		}
		phrases = append(phrases, Phrase{Start: start, End: end, Text: text[start:end], Time: r.Time})
	}
	sort.Slice(phrases, func(i, j int) bool { return phrases[i].Start < phrases[j].Start })
	return phrases
}

// trimSpan narrows [start, end) to its first and last word characters.
func trimSpan(s string, start, end int) (int, int) {
	for start < end && !isWordByte(s[start]) {
		start++
	}
	for end > start && !isWordByte(s[end-1]) {
		end--
	}
	return start, end
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' || b == '_' || b >= 0x80
}

// removeSpans splices the phrases out of text, leaving a space in their place.
// Phrases must be sorted by Start.
func removeSpans(text string, phrases []Phrase) string {
	if len(phrases) == 0 {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))
	cursor := 0
	for _, p := range phrases {
		if p.Start < cursor {
			if p.End > cursor {
				cursor = p.End
			}
			continue
		}
		b.WriteString(text[cursor:p.Start])
		b.WriteByte(' ')
		cursor = p.End
	}
	b.WriteString(text[cursor:])
	return b.String()
}

func clean(s string) string {
	for _, re := range fillers {
		s = re.ReplaceAllString(s, "")
	}
	s = separators.ReplaceAllString(s, " ")
	s = spaces.ReplaceAllString(s, " ")
	s = strings.Trim(strings.TrimSpace(s), edgePunct)
	return strings.ToLower(s)
}

// preferFuture rolls an ambiguous resolution that landed in the past forward.
// Phrases that name the past or an explicit year are kept as resolved.
func preferFuture(t, now time.Time, phrase string) time.Time {
	if !t.Before(now) || pastMarker.MatchString(phrase) {
		return t
	}
	switch behind := now.Sub(t); {
	case behind < 24*time.Hour:
		return t.AddDate(0, 0, 1)
	case behind < 7*24*time.Hour:
		return t.AddDate(0, 0, 7)
	default:
		return t.AddDate(1, 0, 0)
	}
}
