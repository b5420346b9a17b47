package chunk

import (
	"regexp"
	"strings"

	"dubstudio/pkg/model"
)

var (
	// A sentence ends at terminal punctuation (plus closing quotes or
	// brackets) followed by whitespace, or at a line break.
	sentenceEndRegex = regexp.MustCompile(`[.!?…。！？]+["'”’)\]]*\s+|\n+`)
	clauseEndRegex   = regexp.MustCompile(`[,;:—–]+\s+`)
)

// Sentences splits text on sentence boundaries, keeping the punctuation with
// each sentence.
func Sentences(text string) []string {
	return splitKeep(text, sentenceEndRegex)
}

func splitKeep(text string, re *regexp.Regexp) []string {
	var out []string
	last := 0
	for _, loc := range re.FindAllStringIndex(text, -1) {
		if s := strings.TrimSpace(text[last:loc[1]]); s != "" {
			out = append(out, s)
		}
		last = loc[1]
	}
	if s := strings.TrimSpace(text[last:]); s != "" {
		out = append(out, s)
	}
	return out
}

// Windows packs sentences into windows of at most budget words without
// splitting a sentence. A sentence longer than the budget is split on clause
// punctuation, then on word boundaries; split reports how many were.
func Windows(text string, budget int) (windows []string, split int) {
	if budget <= 0 {
		if t := strings.TrimSpace(text); t != "" {
			return []string{t}, 0
		}
		return nil, 0
	}

	var pieces []string
	for _, s := range Sentences(text) {
		if model.WordCount(s) <= budget {
			pieces = append(pieces, s)
			continue
		}
		split++
		pieces = append(pieces, splitLong(s, budget)...)
	}

	var cur []string
	words := 0
	flush := func() {
		if len(cur) > 0 {
			windows = append(windows, strings.Join(cur, " "))
			cur, words = nil, 0
		}
	}
	for _, p := range pieces {
		n := model.WordCount(p)
		if words+n > budget {
			flush()
		}
		cur = append(cur, p)
		words += n
	}
	flush()
	return windows, split
}

// splitLong breaks one oversized sentence into budget-sized parts.
func splitLong(sentence string, budget int) []string {
	var out []string
	for _, clause := range splitKeep(sentence, clauseEndRegex) {
		words := strings.Fields(clause)
		for len(words) > budget {
			out = append(out, strings.Join(words[:budget], " "))
			words = words[budget:]
		}
		if len(words) > 0 {
			out = append(out, strings.Join(words, " "))
		}
	}
	return out
}

// LineWindows groups multi-speaker lines into windows of at most budget
// words. Lines are never split; an oversized line gets a window of its own.
func LineWindows(lines []model.SpeakerLine, budget int) [][]model.SpeakerLine {
	if budget <= 0 {
		return [][]model.SpeakerLine{lines}
	}
	var out [][]model.SpeakerLine
	var cur []model.SpeakerLine
	words := 0
	for _, l := range lines {
		n := model.WordCount(l.Text)
		if len(cur) > 0 && words+n > budget {
			out = append(out, cur)
			cur, words = nil, 0
		}
		cur = append(cur, l)
		words += n
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}
