package voice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dubstudio/pkg/model"
)

func TestInferGender(t *testing.T) {
	tables := DefaultTables()
	tests := map[string]model.Gender{
		"Rahul":        model.GenderMale,
		"Priya":        model.GenderFemale,
		"Uncle Bob":    model.GenderMale,
		"Mrs. Sharma":  model.GenderFemale,
		"Didi":         model.GenderFemale,
		"Old Man":      model.GenderMale,
		"Königin Anna": model.GenderFemale,
		"Rajesh":       model.GenderMale,
		"Shalini":      model.GenderFemale,
		"Narrator":     model.GenderUnknown,
		"X":            model.GenderUnknown,
		"":             model.GenderUnknown,
	}
	for name, want := range tests {
		if got := tables.Infer(name); got != want {
			t.Errorf("Infer(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestParseTables_Override(t *testing.T) {
	tables, err := ParseTables([]byte("names:\n  female: [zorblax]\n"))
	require.NoError(t, err)
	assert.Equal(t, model.GenderFemale, tables.Infer("Zorblax"))
	assert.Equal(t, model.GenderUnknown, tables.Infer("Rahul"))
}

func TestBucketOf(t *testing.T) {
	tests := []struct {
		name  string
		voice model.Voice
		lang  string
		want  Bucket
	}{
		{"TargetByLanguage", model.Voice{ID: "hi-IN-SwaraNeural", Language: "hi-IN"}, "hi-IN", BucketTarget},
		{"TargetByIDPrefix", model.Voice{ID: "de-DE-KatjaNeural"}, "de", BucketTarget},
		{"MultilingualFlag", model.Voice{ID: "Kore", Multilingual: true}, "hi-IN", BucketNeutral},
		{"MultilingualKeyword", model.Voice{ID: "en-US-AvaMultilingualNeural", Language: "en-US"}, "de-DE", BucketNeutral},
		{"Other", model.Voice{ID: "fr-FR-DeniseNeural", Language: "fr-FR"}, "de-DE", BucketOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BucketOf(&tt.voice, tt.lang))
		})
	}
}

func TestResolve_DramaSpeakersGetDistinctVoices(t *testing.T) {
	r := NewResolver(nil, StaticCatalogs())
	for _, engine := range []string{EngineGemini, EngineAzure, EngineEdge, EngineRemote} {
		voices := r.ResolveAll([]string{"Rahul", "Priya"}, engine, "hi-IN", nil)
		assert.NotEmpty(t, voices["Rahul"], engine)
		assert.NotEqual(t, voices["Rahul"], voices["Priya"], engine)
	}
}

func TestResolve_Deterministic(t *testing.T) {
	r := NewResolver(nil, StaticCatalogs())
	first := r.Resolve("Captain Reyes", EngineGemini, "en-US", nil)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, r.Resolve("Captain Reyes", EngineGemini, "en-US", nil))
	}

	// catalog order does not matter, only its composition
	shuffled := append([]model.Voice(nil), GeminiVoices...)
	for i, j := 0, len(shuffled)-1; i < j; i, j = i+1, j-1 {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	r2 := NewResolver(nil, map[string][]model.Voice{EngineGemini: shuffled})
	assert.Equal(t, first, r2.Resolve("Captain Reyes", EngineGemini, "en-US", nil))
}

func TestResolve_GenderAndLanguageFiltering(t *testing.T) {
	r := NewResolver(nil, StaticCatalogs())
	id := r.Resolve("Priya", EngineAzure, "hi-IN", nil)
	var found *model.Voice
	for _, v := range AzureVoices {
		if v.ID == id {
			found = &v
			break
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, model.GenderFemale, found.Gender)
	assert.NotEqual(t, BucketOther, BucketOf(found, "hi-IN"))
}

func TestResolve_ExplicitMapping(t *testing.T) {
	r := NewResolver(nil, StaticCatalogs())
	explicit := map[string]string{"rahul": "Puck", "Priya": "NotAVoice"}
	assert.Equal(t, "Puck", r.Resolve("Rahul", EngineGemini, "en", explicit))

	// invalid ids fall through to inference
	got := r.Resolve("Priya", EngineGemini, "en", explicit)
	assert.NotEqual(t, "NotAVoice", got)
	assert.True(t, r.Valid(EngineGemini, got))
}

func TestResolve_EmptyPoolFallsBack(t *testing.T) {
	onlyFrench := []model.Voice{
		{ID: "fr-FR-HenriNeural", Language: "fr-FR", Gender: model.GenderMale},
	}
	r := NewResolver(nil, map[string][]model.Voice{"x": onlyFrench})
	assert.Equal(t, "fr-FR-HenriNeural", r.Resolve("Priya", "x", "hi-IN", nil))
}

func TestResolveAll_ForcesDistinctPair(t *testing.T) {
	catalog := []model.Voice{
		{ID: "f1", Gender: model.GenderFemale, Multilingual: true},
		{ID: "m1", Gender: model.GenderMale, Multilingual: true},
	}
	r := NewResolver(nil, map[string][]model.Voice{"x": catalog})
	got := r.ResolveAll([]string{"Priya", "Anita"}, "x", "en", nil)
	assert.Equal(t, "f1", got["Priya"])
	assert.Equal(t, "m1", got["Anita"])

	// pinned second speaker moves the first instead
	got = r.ResolveAll([]string{"Priya", "Anita"}, "x", "en", map[string]string{"Anita": "f1"})
	assert.Equal(t, "f1", got["Anita"])
	assert.Equal(t, "m1", got["Priya"])

	// three speakers may share voices
	got = r.ResolveAll([]string{"Priya", "Anita", "Neha"}, "x", "en", nil)
	assert.Equal(t, "f1", got["Neha"])
}
