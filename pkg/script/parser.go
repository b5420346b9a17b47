// Package script turns annotated script text into typed segments and back.
package script

import (
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"dubstudio/pkg/model"
)

// Options tune the parser heuristics.
type Options struct {
	// MaxSpeakerLen caps speaker names in characters.
	MaxSpeakerLen int
	// Denylist holds structural words that are never speakers (compared case-insensitively).
	Denylist []string
	// WordsPerSecond drives the duration estimate.
	WordsPerSecond float64
	// SfxSeconds is the default length of a sound-effect cue.
	SfxSeconds float64
}

// DefaultDenylist are headings and pronouns that look like "Speaker:" prefixes.
var DefaultDenylist = []string{
	"chapter", "scene", "part", "act", "credits", "episode", "prologue", "epilogue",
	"intro", "outro", "title", "note", "notes", "summary", "transcript", "script",
	"page", "section", "he", "she", "they", "it", "we", "i", "you", "http", "https",
}

// DefaultOptions returns the stock heuristics.
func DefaultOptions() Options {
	return Options{
		MaxSpeakerLen:  40,
		Denylist:       DefaultDenylist,
		WordsPerSecond: 2.6,
		SfxSeconds:     2.0,
	}
}

const (
	minEstimate = 0.7
	maxEstimate = 12.0
	punctWeight = 0.08

	maxSpeakerWords = 4
)

var (
	tsPattern = `(?:\d{1,2}:)?\d{1,2}:\d{2}(?:[.,]\d{1,3})?`
	reTime    = regexp.MustCompile(`^\s*\[?\s*(` + tsPattern + `)\s*(?:(?:-->|–|—|-|to)\s*(` + tsPattern + `))?\s*\]?\s*`)
	reSfxCue  = regexp.MustCompile(`(?i)^[\[(]\s*(?:sfx|sound effect|sound|fx|effect|music|ambience|ambient|bgm)\s*[:\-–]\s*(.+?)\s*[\])]$`)
	reBracket = regexp.MustCompile(`^\[\s*([^\[\]]+?)\s*\]$`)
	reSpeaker = regexp.MustCompile(`^([^:()\[\]]{1,80}?)\s*(?:\(([^()]*)\))?\s*:\s*(.*)$`)
	reParen   = regexp.MustCompile(`^\(\s*([^()]+?)\s*\)$`)
)

// Parser classifies script lines into segments.
type Parser struct {
	opts Options
	deny map[string]bool
}

// NewParser builds a parser.
func NewParser(opts Options) *Parser {
	def := DefaultOptions()
	if opts.MaxSpeakerLen <= 0 {
		opts.MaxSpeakerLen = def.MaxSpeakerLen
	}
	if opts.WordsPerSecond <= 0 {
		opts.WordsPerSecond = def.WordsPerSecond
	}
	if opts.SfxSeconds <= 0 {
		opts.SfxSeconds = def.SfxSeconds
	}
	if opts.Denylist == nil {
		opts.Denylist = def.Denylist
	}
	deny := make(map[string]bool, len(opts.Denylist))
	for _, w := range opts.Denylist {
		deny[strings.ToLower(strings.TrimSpace(w))] = true
	}
	return &Parser{opts: opts, deny: deny}
}

// Parse parses raw script text with the default options.
func Parse(raw string) []model.Segment {
	return NewParser(DefaultOptions()).Parse(raw)
}

// Parse turns raw text into ordered segments. It never fails: anything it
// cannot classify becomes narration.
func (p *Parser) Parse(raw string) []model.Segment {
	lines := SplitLines(raw)
	var (
		segs      []model.Segment
		cursor    float64
		lastStart float64
		blank     = true
	)

	for _, line := range lines {
		text := strings.TrimSpace(line.Raw)
		if text == "" {
			blank = true
			continue
		}

		text = line.strip(text)
		if line.HasStart {
			if line.Start < lastStart {
				slog.Debug("Script: clamping out-of-order timestamp", "line", line.Number, "start", line.Start, "previous", lastStart)
				line.Start = lastStart
			}
			if line.HasEnd && line.End <= line.Start {
				line.HasEnd = false
			}
			lastStart = line.Start
		}
		if text == "" {
			// a bare timestamp only moves the cursor
			if line.HasStart {
				cursor = line.Start
			}
			continue
		}

		content, ok := p.classify(text)
		if !ok {
			// continuation of the previous speaker
			if n := len(segs); n > 0 && !blank && !line.HasStart && segs[n-1].Kind() == model.KindDialogue {
				prev := &segs[n-1]
				d := prev.Content.(model.Dialogue)
				d.Text = strings.TrimSpace(d.Text + " " + text)
				prev.Content = d
				if !prev.HasEnd {
					prev.Estimate = p.Estimate(d.Text)
					cursor = prev.Start + prev.Estimate
				}
				blank = false
				continue
			}
			content = direction(text)
		}
		blank = false

		seg := model.Segment{Index: len(segs), Start: cursor, Content: content}
		if line.HasStart {
			seg.Start = line.Start
			seg.Timed = true
		}
		if line.HasEnd {
			seg.End = line.End
			seg.HasEnd = true
			seg.Estimate = line.End - seg.Start
		} else if content.Kind() == model.KindSfx {
			seg.Estimate = p.opts.SfxSeconds
		} else {
			seg.Estimate = p.Estimate(seg.Text())
		}
		cursor = seg.Start + seg.Estimate
		segs = append(segs, seg)
	}
	return segs
}

// classify applies the marker and speaker rules to a line whose timestamp
// has already been stripped. ok is false for anything else, which is then
// tried as a continuation before direction.
func (p *Parser) classify(text string) (model.Content, bool) {
	if m := reSfxCue.FindStringSubmatch(text); m != nil {
		return model.Sfx{Label: m[1]}, true
	}
	if m := reBracket.FindStringSubmatch(text); m != nil {
		return model.Sfx{Label: m[1]}, true
	}
	if m := reSpeaker.FindStringSubmatch(text); m != nil {
		name := CleanSpeaker(m[1])
		body := strings.TrimSpace(m[3])
		if p.ValidSpeaker(name) && body != "" {
			emotion, crew := SplitTags(m[2])
			return model.Dialogue{Speaker: name, Emotion: emotion, CrewTags: crew, Text: body}, true
		}
	}
	return nil, false
}

// direction reads a parenthesized line as a stage direction and anything
// else as plain narration.
func direction(text string) model.Content {
	if m := reParen.FindStringSubmatch(text); m != nil {
		return model.Narration{Text: m[1], Direction: true}
	}
	return model.Narration{Text: text}
}

// ValidSpeaker rejects numeric-only, overlong and structural names.
func (p *Parser) ValidSpeaker(name string) bool {
	if name == "" || len([]rune(name)) > p.opts.MaxSpeakerLen {
		return false
	}
	if p.deny[strings.ToLower(name)] || len(strings.Fields(name)) > maxSpeakerWords {
		return false
	}
	if r, _ := utf8.DecodeRuneInString(name); unicode.IsLower(r) {
		return false
	}
	// "Chapter 3" and similar
	if first, _, found := strings.Cut(name, " "); found && p.deny[strings.ToLower(first)] {
		return false
	}
	hasLetter := false
	for _, r := range name {
		if unicode.IsLetter(r) {
			hasLetter = true
			break
		}
	}
	return hasLetter
}

// SplitTags splits "Sighing, softly" into the primary emotion and crew tags.
// An unrecognized first tag leaves the emotion Neutral and is kept as a crew tag.
func SplitTags(raw string) (model.Emotion, []string) {
	var tags []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	if len(tags) == 0 {
		return model.EmotionNeutral, nil
	}
	if e, ok := model.LookupEmotion(tags[0]); ok {
		if len(tags) == 1 {
			return e, nil
		}
		return e, tags[1:]
	}
	return model.EmotionNeutral, tags
}

// Estimate returns the expected spoken duration of text in seconds.
func (p *Parser) Estimate(text string) float64 {
	return EstimateDuration(text, p.opts.WordsPerSecond)
}

// EstimateDuration is max(0.7, min(12, words/wps + punctuation*0.08)).
func EstimateDuration(text string, wordsPerSecond float64) float64 {
	if wordsPerSecond <= 0 {
		wordsPerSecond = 2.6
	}
	words := float64(model.WordCount(text))
	punct := 0
	for _, r := range text {
		if unicode.IsPunct(r) {
			punct++
		}
	}
	est := words/wordsPerSecond + float64(punct)*punctWeight
	return math.Max(minEstimate, math.Min(maxEstimate, est))
}

type scriptLine struct {
	model.ScriptLine
	cut int
}

func (l *scriptLine) strip(text string) string {
	if l.cut == 0 {
		return text
	}
	return strings.TrimSpace(text[l.cut:])
}

// SplitLines splits raw text into lines and extracts leading timestamps.
func SplitLines(raw string) []scriptLine {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	parts := strings.Split(raw, "\n")
	out := make([]scriptLine, 0, len(parts))
	for i, r := range parts {
		l := scriptLine{ScriptLine: model.ScriptLine{Number: i + 1, Raw: r}}
		trimmed := strings.TrimSpace(r)
		if loc := reTime.FindStringSubmatchIndex(trimmed); loc != nil {
			start, okStart := ParseTimestamp(trimmed[loc[2]:loc[3]])
			if okStart {
				l.Start, l.HasStart = start, true
				l.cut = loc[1]
				if loc[4] >= 0 {
					if end, ok := ParseTimestamp(trimmed[loc[4]:loc[5]]); ok {
						l.End, l.HasEnd = end, true
					}
				}
			}
		}
		l.Raw = trimmed
		out = append(out, l)
	}
	return out
}

// ParseTimestamp parses "mm:ss", "hh:mm:ss" and either with ".mmm" or ",mmm".
func ParseTimestamp(s string) (float64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, false
	}
	var total float64
	for i, part := range parts {
		v, err := strconv.ParseFloat(part, 64)
		if err != nil || v < 0 {
			return 0, false
		}
		if i < len(parts)-1 && strings.Contains(part, ".") {
			return 0, false
		}
		total = total*60 + v
	}
	return total, true
}

// CleanSpeaker trims markup around a speaker name and NFC-normalizes it.
func CleanSpeaker(name string) string {
	name = strings.Trim(strings.TrimSpace(name), "*_#>- \t")
	return NormalizeName(name)
}
