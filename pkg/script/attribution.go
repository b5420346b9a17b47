package script

import (
	"log/slog"
	"math/bits"
	"regexp"
	"strings"

	"github.com/go-dedup/simhash"

	"dubstudio/pkg/model"
)

// maxQuoteDistance is the simhash Hamming distance under which a segment and a
// quotation count as the same line.
const maxQuoteDistance = 8

var (
	reQuote = regexp.MustCompile(`"([^"]{2,400})"|“([^”]{2,400})”|«([^»]{2,400})»|„([^“”]{2,400})[“”]`)

	saidVerbs = `said|asked|replied|answered|shouted|yelled|whispered|muttered|murmured|cried|exclaimed|called|added|continued|snapped|sighed|laughed|teased|taunted|insisted|begged|pleaded|warned|admitted`
	reAfter   = regexp.MustCompile(`^[\s,.!?—–-]*(?:(?:` + saidVerbs + `)\s+(\p{Lu}[\p{L}'-]+)|(\p{Lu}[\p{L}'-]+)\s+(?:` + saidVerbs + `))\b`)
	reBefore  = regexp.MustCompile(`(\p{Lu}[\p{L}'-]+)\s+(?:` + saidVerbs + `)(?:\s+\w+){0,3}\s*[,:]?\s*$`)
)

// placeholderSpeakers are labels an upstream formatter uses when it does not
// know who is speaking.
var placeholderSpeakers = map[string]bool{
	"narrator": true, "unknown": true, "speaker": true, "voice": true,
	"character": true, "man": true, "woman": true, "someone": true,
	"speaker 1": true, "speaker 2": true, "voice 1": true, "voice 2": true,
}

// Quote is a quoted span in source prose and the character the prose attributes it to.
type Quote struct {
	Text    string
	Speaker string
	hash    uint64
	words   map[string]bool
}

type textFeatures struct {
	words []string
}

func (f textFeatures) GetFeatures() []simhash.Feature {
	features := make([]simhash.Feature, 0, len(f.words))
	for i := range f.words {
		features = append(features, simhash.NewFeature([]byte(f.words[i])))
		if i+1 < len(f.words) {
			features = append(features, simhash.NewFeature([]byte(f.words[i]+" "+f.words[i+1])))
		}
	}
	return features
}

func fingerprint(words []string) uint64 {
	return simhash.NewSimhash().GetSimhash(textFeatures{words: words})
}

// Quotes extracts attributed quotations from source prose.
func (p *Parser) Quotes(source string) []Quote {
	source = StripSpeakerLabels(PlainText(source))
	var out []Quote
	for _, loc := range reQuote.FindAllStringSubmatchIndex(source, -1) {
		var text string
		for g := 1; g*2+1 < len(loc); g++ {
			if loc[g*2] >= 0 {
				text = source[loc[g*2]:loc[g*2+1]]
				break
			}
		}
		speaker := p.attributedSpeaker(source[:loc[0]], source[loc[1]:])
		if speaker == "" {
			continue
		}
		words := FoldWords(text)
		if len(words) == 0 {
			continue
		}
		set := make(map[string]bool, len(words))
		for _, w := range words {
			set[w] = true
		}
		out = append(out, Quote{Text: strings.TrimSpace(text), Speaker: speaker, hash: fingerprint(words), words: set})
	}
	return out
}

func (p *Parser) attributedSpeaker(before, after string) string {
	// attribution never crosses a line break
	if i := strings.IndexByte(after, '\n'); i >= 0 {
		after = after[:i]
	}
	if i := strings.LastIndexByte(before, '\n'); i >= 0 {
		before = before[i+1:]
	}
	if len(after) > 80 {
		after = after[:80]
	}
	if m := reAfter.FindStringSubmatch(after); m != nil {
		for _, g := range m[1:] {
			if name := CleanSpeaker(g); g != "" && p.ValidSpeaker(name) {
				return name
			}
		}
	}
	if len(before) > 80 {
		before = before[len(before)-80:]
	}
	if m := reBefore.FindStringSubmatch(before); m != nil {
		if name := CleanSpeaker(m[1]); p.ValidSpeaker(name) {
			return name
		}
	}
	return ""
}

// Attribute rewrites narrator or placeholder lines that match a quotation the
// source prose attributes to a named character. It only runs when the script
// carries no explicit timestamps. It returns the number of rewritten segments.
func (p *Parser) Attribute(segs []model.Segment, source string) int {
	if strings.TrimSpace(source) == "" {
		return 0
	}
	for i := range segs {
		if segs[i].Timed {
			return 0
		}
	}
	quotes := p.Quotes(source)
	if len(quotes) == 0 {
		return 0
	}

	changed := 0
	for i := range segs {
		seg := &segs[i]
		text, emotion, crew, ok := rewritable(seg)
		if !ok {
			continue
		}
		q := matchQuote(text, quotes)
		if q == nil {
			continue
		}
		slog.Debug("Script: reattributed line", "index", seg.Index, "from", seg.Speaker(), "to", q.Speaker)
		seg.Content = model.Dialogue{Speaker: q.Speaker, Emotion: emotion, CrewTags: crew, Text: text}
		changed++
	}
	return changed
}

func rewritable(seg *model.Segment) (text string, emotion model.Emotion, crew []string, ok bool) {
	switch c := seg.Content.(type) {
	case model.Narration:
		if c.Direction {
			return "", "", nil, false
		}
		return trimQuotes(c.Text), model.EmotionNeutral, nil, true
	case model.Dialogue:
		if !placeholderSpeakers[strings.ToLower(c.Speaker)] {
			return "", "", nil, false
		}
		return trimQuotes(c.Text), c.Emotion, c.CrewTags, true
	}
	return "", "", nil, false
}

func trimQuotes(s string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(s), `"“”«»„`))
}

// matchQuote finds the quotation a line reproduces: most of the line's words
// must come from the quote, or the two must be near-duplicates by simhash.
func matchQuote(text string, quotes []Quote) *Quote {
	words := FoldWords(text)
	if len(words) == 0 {
		return nil
	}
	hash := fingerprint(words)
	var best *Quote
	bestScore := 0.0
	for i := range quotes {
		q := &quotes[i]
		hit := 0
		for _, w := range words {
			if q.words[w] {
				hit++
			}
		}
		coverage := float64(hit) / float64(len(words))
		recall := float64(hit) / float64(len(q.words))
		score := coverage * recall
		if len(words) >= 3 && bits.OnesCount64(hash^q.hash) <= maxQuoteDistance {
			score = max(score, 0.9)
		}
		if coverage >= 0.8 && recall >= 0.6 && score > bestScore {
			best, bestScore = q, score
		} else if score >= 0.9 && score > bestScore {
			best, bestScore = q, score
		}
	}
	return best
}
