package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestSegment_SpokenText(t *testing.T) {
	tests := []struct {
		name string
		seg  Segment
		want string
	}{
		{"DialogueNoTags", Segment{Content: Dialogue{Speaker: "Rahul", Text: "Hi."}}, "Hi."},
		{"DialogueCrewTags", Segment{Content: Dialogue{Speaker: "Rahul", CrewTags: []string{"softly", "slow"}, Text: "Hi."}}, "[softly, slow] Hi."},
		{"Narration", Segment{Content: Narration{Text: "Night falls."}}, "Night falls."},
		{"Sfx", Segment{Content: Sfx{Label: "Thunder"}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.seg.SpokenText(); got != tt.want {
				t.Errorf("SpokenText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSegment_Speaker(t *testing.T) {
	if got := (&Segment{Content: Sfx{Label: "x"}}).Speaker(); got != "" {
		t.Errorf("sfx speaker = %q, want empty", got)
	}
	if got := (&Segment{Content: Narration{Text: "x"}}).Speaker(); got != NarratorName {
		t.Errorf("narration speaker = %q", got)
	}
}

func TestSegment_JSONRoundTrip(t *testing.T) {
	in := Segment{Index: 2, Start: 1.5, End: 3, HasEnd: true, Timed: true,
		Content: Dialogue{Speaker: "Priya", Emotion: EmotionTaunting, CrewTags: []string{"smirk"}, Text: "Really?"}}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	var out Segment
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	d, ok := out.Content.(Dialogue)
	if !ok {
		t.Fatalf("content = %T, want Dialogue", out.Content)
	}
	if d.Speaker != "Priya" || d.Emotion != EmotionTaunting || d.Text != "Really?" || len(d.CrewTags) != 1 {
		t.Errorf("unexpected dialogue %+v", d)
	}
	if !out.HasEnd || out.End != 3 || out.Start != 1.5 {
		t.Errorf("timing lost: %+v", out)
	}
}

func TestSegment_Validate(t *testing.T) {
	bad := Segment{Start: 2, End: 1, HasEnd: true, Content: Narration{Text: "x"}}
	if err := bad.Validate(); err == nil {
		t.Error("expected error for end before start")
	}
	good := Segment{Start: 1, End: 2, HasEnd: true, Content: Narration{Text: "x"}}
	if err := good.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNormalizeEmotion(t *testing.T) {
	tests := map[string]Emotion{
		"Sighing":  EmotionSighing,
		" sighs ":  EmotionSighing,
		"TAUNTING": EmotionTaunting,
		"mocking":  EmotionTaunting,
		"softly":   EmotionNeutral,
		"":         EmotionNeutral,
	}
	for in, want := range tests {
		if got := NormalizeEmotion(in); got != want {
			t.Errorf("NormalizeEmotion(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSpeakers(t *testing.T) {
	segs := []Segment{
		{Content: Dialogue{Speaker: "A"}},
		{Content: Sfx{Label: "door"}},
		{Content: Dialogue{Speaker: "B"}},
		{Content: Dialogue{Speaker: "A"}},
		{Content: Narration{Text: "x"}},
	}
	got := Speakers(segs)
	want := []string{"A", "B", NarratorName}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("Speakers() = %v, want %v", got, want)
	}
}

func TestUserMessage(t *testing.T) {
	long := strings.Repeat("x", 1000)
	tests := []struct {
		name     string
		err      error
		contains string
	}{
		{"Aborted", Aborted(context.Canceled), "cancelled"},
		{"PlainCanceled", fmt.Errorf("wrap: %w", context.Canceled), "cancelled"},
		{"Quota", &Error{Kind: KindQuotaOrRateLimited, RetryAfter: 30 * time.Second}, "Usage limit"},
		{"QuotaRetryHint", &Error{Kind: KindQuotaOrRateLimited, RetryAfter: 30 * time.Second}, "30s"},
		{"WordLimit", WordLimitExceeded(5000, 6000), "5000"},
		{"Unclassified", errors.New("boom"), "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UserMessage(tt.err); !strings.Contains(got, tt.contains) {
				t.Errorf("UserMessage() = %q, want substring %q", got, tt.contains)
			}
		})
	}

	msg := UserMessage(&Error{Kind: KindOther, Message: long})
	if n := len([]rune(msg)); n > MaxMessageLen {
		t.Errorf("message length %d exceeds cap", n)
	}
}

func TestKindOf(t *testing.T) {
	err := fmt.Errorf("outer: %w", NewError(KindModelUnavailable, "", "gone", nil))
	if KindOf(err) != KindModelUnavailable {
		t.Errorf("KindOf = %v", KindOf(err))
	}
	if KindOf(errors.New("x")) != KindOther {
		t.Error("unclassified error should be KindOther")
	}
	if !KindAuthRejected.Fatal() || KindQuotaOrRateLimited.Fatal() {
		t.Error("fatal classification mismatch")
	}
}

func TestBaseLanguage(t *testing.T) {
	for in, want := range map[string]string{"de-DE": "de", "EN_us": "en", "hi": "hi", "": ""} {
		if got := BaseLanguage(in); got != want {
			t.Errorf("BaseLanguage(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSynthesisRequest_Validate(t *testing.T) {
	if err := (&SynthesisRequest{Text: "  "}).Validate(); KindOf(err) != KindValidation {
		t.Errorf("expected validation error, got %v", err)
	}
	r := &SynthesisRequest{MultiSpeaker: true, Lines: []SpeakerLine{{Speaker: "A", Text: "hi"}}, SpeakerVoices: map[string]string{}}
	if err := r.Validate(); err == nil {
		t.Error("expected error for unmapped speaker")
	}
	r.SpeakerVoices["A"] = "kore"
	if err := r.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if r.ScriptText() != "A: hi" {
		t.Errorf("ScriptText() = %q", r.ScriptText())
	}
}
