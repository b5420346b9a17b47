package script

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dubstudio/pkg/model"
)

func TestParse_DramaScenario(t *testing.T) {
	segs := Parse("Rahul (Sighing): I don't know.\nPriya (Taunting): Really?\n[SFX: Thunder clap]")
	require.Len(t, segs, 3)

	d0, ok := segs[0].Content.(model.Dialogue)
	require.True(t, ok)
	assert.Equal(t, "Rahul", d0.Speaker)
	assert.Equal(t, model.EmotionSighing, d0.Emotion)

	d1, ok := segs[1].Content.(model.Dialogue)
	require.True(t, ok)
	assert.Equal(t, "Priya", d1.Speaker)
	assert.Equal(t, model.EmotionTaunting, d1.Emotion)

	sfx, ok := segs[2].Content.(model.Sfx)
	require.True(t, ok)
	assert.Equal(t, "Thunder clap", sfx.Label)
	assert.Equal(t, "", segs[2].Speaker())

	for i, s := range segs {
		assert.Equal(t, i, s.Index)
	}
}

func TestParse_Classification(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		kind    model.Kind
		speaker string
		text    string
	}{
		{"SfxCueWord", "(sound: door creaks)", model.KindSfx, "", "door creaks"},
		{"SfxBareBracket", "[Footsteps approach]", model.KindSfx, "", "Footsteps approach"},
		{"MusicCue", "[Music - soft piano]", model.KindSfx, "", "soft piano"},
		{"StageDirection", "(She turns away.)", model.KindNarration, model.NarratorName, "She turns away."},
		{"Plain", "The rain kept falling.", model.KindNarration, model.NarratorName, "The rain kept falling."},
		{"ChapterHeading", "Chapter 3: The Storm", model.KindNarration, model.NarratorName, "Chapter 3: The Storm"},
		{"NumericSpeaker", "42: the answer", model.KindNarration, model.NarratorName, "42: the answer"},
		{"PronounSpeaker", "She said: go", model.KindNarration, model.NarratorName, "She said: go"},
		{"MarkdownSpeaker", "**Anna**: Hello there.", model.KindDialogue, "Anna", "Hello there."},
		{"MultiWordSpeaker", "Old Man: Who goes there?", model.KindDialogue, "Old Man", "Who goes there?"},
		{"OverlongSpeaker", "Abcdefghijabcdefghijabcdefghijabcdefghijabcdefghij: hi", model.KindNarration, model.NarratorName, "Abcdefghijabcdefghijabcdefghijabcdefghijabcdefghij: hi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			segs := Parse(tt.input)
			require.Len(t, segs, 1)
			assert.Equal(t, tt.kind, segs[0].Kind())
			assert.Equal(t, tt.speaker, segs[0].Speaker())
			assert.Equal(t, tt.text, segs[0].Text())
		})
	}
}

func TestParse_CrewTags(t *testing.T) {
	segs := Parse("Mira (Whispering, close to mic, slow): Come here.")
	require.Len(t, segs, 1)
	d := segs[0].Content.(model.Dialogue)
	assert.Equal(t, model.EmotionWhispering, d.Emotion)
	assert.Equal(t, []string{"close to mic", "slow"}, d.CrewTags)
	assert.Equal(t, "[close to mic, slow] Come here.", segs[0].SpokenText())

	// unknown first tag keeps Neutral and survives as a crew tag
	segs = Parse("Mira (softly): Come here.")
	d = segs[0].Content.(model.Dialogue)
	assert.Equal(t, model.EmotionNeutral, d.Emotion)
	assert.Equal(t, []string{"softly"}, d.CrewTags)
}

func TestParse_Continuation(t *testing.T) {
	segs := Parse("Rahul: I went there.\nIt was late.\n\nThe end came.")
	require.Len(t, segs, 2)
	assert.Equal(t, "I went there. It was late.", segs[0].Text())
	assert.Equal(t, model.KindNarration, segs[1].Kind())
	assert.InDelta(t, segs[0].Estimate, segs[1].Start, 1e-9)
}

func TestParse_ContinuationBeforeDirection(t *testing.T) {
	segs := Parse("Rahul: Wait for me.\n(breathless)\n\n(She turns away.)")
	require.Len(t, segs, 2)
	assert.Equal(t, "Wait for me. (breathless)", segs[0].Text())

	n, ok := segs[1].Content.(model.Narration)
	require.True(t, ok)
	assert.True(t, n.Direction)
	assert.Equal(t, "She turns away.", n.Text)
}

func TestParse_Timestamps(t *testing.T) {
	segs := Parse("[00:01.500-00:03.000] Rahul: First.\n[00:05] Priya: Second.\n[00:04] Rahul: Out of order.")
	require.Len(t, segs, 3)

	assert.True(t, segs[0].Timed)
	assert.True(t, segs[0].HasEnd)
	assert.Equal(t, 1.5, segs[0].Start)
	assert.Equal(t, 3.0, segs[0].End)
	assert.Equal(t, 1.5, segs[0].Estimate)

	assert.Equal(t, 5.0, segs[1].Start)
	assert.False(t, segs[1].HasEnd)

	// clamped to stay non-decreasing
	assert.Equal(t, 5.0, segs[2].Start)
}

func TestParse_EndBeforeStartDropped(t *testing.T) {
	segs := Parse("[00:05-00:02] Rahul: Oops.")
	require.Len(t, segs, 1)
	assert.False(t, segs[0].HasEnd)
	require.NoError(t, segs[0].Validate())
}

func TestParse_CursorAdvances(t *testing.T) {
	segs := Parse("A: one two three.\n\nB: four five six seven.")
	require.Len(t, segs, 2)
	assert.Equal(t, 0.0, segs[0].Start)
	assert.InDelta(t, segs[0].Estimate, segs[1].Start, 1e-9)
}

func TestParse_NeverFails(t *testing.T) {
	for _, in := range []string{"", "\n\n", ":::", "(", "[]", "[00:00]", "   :  ", "\x00\x01"} {
		segs := Parse(in)
		for _, s := range segs {
			assert.NoError(t, s.Validate(), "input %q", in)
		}
	}
}

func TestEstimateDuration(t *testing.T) {
	tests := []struct {
		text string
		want float64
	}{
		{"", 0.7},
		{"Hi", 0.7},
		{"one two three four five six seven eight nine ten eleven twelve thirteen", 13/2.6},
		{repeatWords(100), 12},
	}
	for _, tt := range tests {
		got := EstimateDuration(tt.text, 2.6)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("EstimateDuration(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
	// punctuation adds 0.08s each
	assert.InDelta(t, 13/2.6+2*0.08, EstimateDuration("one two three four five six seven eight nine ten eleven twelve thirteen, yes.", 2.6)-1/2.6, 1e-9)
}

func repeatWords(n int) string {
	out := make([]byte, 0, n*5)
	for i := 0; i < n; i++ {
		out = append(out, "word "...)
	}
	return string(out)
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"00:01", 1, true},
		{"1:02:03", 3723, true},
		{"00:01,250", 1.25, true},
		{"abc", 0, false},
		{"1.5:00", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseTimestamp(tt.in)
		if ok != tt.ok || (ok && math.Abs(got-tt.want) > 1e-9) {
			t.Errorf("ParseTimestamp(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
