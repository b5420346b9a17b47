// Package voice maps speaker names to concrete engine voices.
package voice

import (
	"hash/fnv"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"dubstudio/pkg/model"
	"dubstudio/pkg/script"
)

// Bucket is the language affinity of a voice relative to a target language.
type Bucket int

const (
	BucketTarget Bucket = iota
	BucketNeutral
	BucketOther
)

// BucketOf places a voice into the target, neutral/multilingual or other bucket.
func BucketOf(v *model.Voice, targetLang string) Bucket {
	target := model.BaseLanguage(targetLang)
	lang := v.Language
	if lang == "" {
		lang = localeOf(v.ID)
	}
	if target != "" && lang != "" && model.BaseLanguage(lang) == target {
		return BucketTarget
	}
	meta := strings.ToLower(v.ID + " " + v.Name)
	if v.Multilingual || lang == "" || strings.Contains(meta, "multilingual") {
		return BucketNeutral
	}
	return BucketOther
}

// Resolver picks voices deterministically.
type Resolver struct {
	tables *GenderTables

	mu       sync.RWMutex
	catalogs map[string][]model.Voice
}

// NewResolver builds a resolver over the given tables and catalogs.
func NewResolver(tables *GenderTables, catalogs map[string][]model.Voice) *Resolver {
	if tables == nil {
		tables = DefaultTables()
	}
	r := &Resolver{tables: tables, catalogs: make(map[string][]model.Voice)}
	for engine, voices := range catalogs {
		r.SetCatalog(engine, voices)
	}
	return r
}

// SetCatalog replaces an engine catalog. Voices are kept sorted by id so the
// hash index is stable for a given catalog composition.
func (r *Resolver) SetCatalog(engine string, voices []model.Voice) {
	sorted := append([]model.Voice(nil), voices...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	r.mu.Lock()
	r.catalogs[engine] = sorted
	r.mu.Unlock()
}

// Catalog returns the voices of an engine.
func (r *Resolver) Catalog(engine string) []model.Voice {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.catalogs[engine]
}

// Gender exposes the inference used for selection.
func (r *Resolver) Gender(speaker string) model.Gender {
	return r.tables.Infer(speaker)
}

// Valid reports whether id belongs to the engine catalog. Engines without a
// known catalog accept any non-empty id.
func (r *Resolver) Valid(engine, id string) bool {
	if id == "" {
		return false
	}
	voices := r.Catalog(engine)
	if len(voices) == 0 {
		return true
	}
	for i := range voices {
		if strings.EqualFold(voices[i].ID, id) {
			return true
		}
	}
	return false
}

// Candidates is the filtered pool for a speaker: target and neutral language
// buckets, then matching gender when known. An empty result falls back to the
// full catalog.
func (r *Resolver) Candidates(speaker, engine, lang string) []model.Voice {
	all := r.Catalog(engine)
	gender := r.tables.Infer(speaker)

	var target, neutral []model.Voice
	for i := range all {
		v := &all[i]
		if gender != model.GenderUnknown && v.Gender != gender {
			continue
		}
		switch BucketOf(v, lang) {
		case BucketTarget:
			target = append(target, *v)
		case BucketNeutral:
			neutral = append(neutral, *v)
		}
	}
	pool := append(target, neutral...)
	if len(pool) == 0 {
		return all
	}
	return pool
}

// Resolve maps a speaker to a voice id for the engine and language.
func (r *Resolver) Resolve(speaker, engine, lang string, explicit map[string]string) string {
	if id, ok := lookupExplicit(speaker, explicit); ok && r.Valid(engine, id) {
		return id
	}
	pool := r.Candidates(speaker, engine, lang)
	if len(pool) == 0 {
		return ""
	}
	return pool[pick(speaker, len(pool))].ID
}

// ResolveAll resolves every speaker. When exactly two speakers end up on the
// same voice, the second (or the first, if the second is pinned) is moved to
// a different candidate.
func (r *Resolver) ResolveAll(speakers []string, engine, lang string, explicit map[string]string) map[string]string {
	out := make(map[string]string, len(speakers))
	for _, s := range speakers {
		out[s] = r.Resolve(s, engine, lang, explicit)
	}
	if len(speakers) != 2 {
		return out
	}
	a, b := speakers[0], speakers[1]
	if out[a] == "" || !strings.EqualFold(out[a], out[b]) {
		return out
	}
	_, pinnedA := lookupExplicit(a, explicit)
	_, pinnedB := lookupExplicit(b, explicit)
	switch {
	case !pinnedB:
		out[b] = r.alternative(b, engine, lang, out[a])
	case !pinnedA:
		out[a] = r.alternative(a, engine, lang, out[b])
	default:
		return out
	}
	slog.Debug("Voice: separated identical voices", "speakers", speakers, "voices", out)
	return out
}

// alternative returns the next candidate after the speaker's hashed slot that
// differs from avoid, widening to the full catalog if the pool has none.
func (r *Resolver) alternative(speaker, engine, lang, avoid string) string {
	for _, pool := range [][]model.Voice{r.Candidates(speaker, engine, lang), r.Catalog(engine)} {
		if len(pool) == 0 {
			continue
		}
		start := pick(speaker, len(pool))
		for i := 1; i <= len(pool); i++ {
			v := pool[(start+i)%len(pool)]
			if !strings.EqualFold(v.ID, avoid) {
				return v.ID
			}
		}
	}
	return avoid
}

func lookupExplicit(speaker string, explicit map[string]string) (string, bool) {
	if len(explicit) == 0 {
		return "", false
	}
	if id, ok := explicit[speaker]; ok && id != "" {
		return id, true
	}
	folded := script.Fold(speaker)
	for k, id := range explicit {
		if id != "" && script.Fold(k) == folded {
			return id, true
		}
	}
	return "", false
}

// pick hashes a folded speaker name onto [0, n).
func pick(speaker string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(script.Fold(strings.TrimSpace(speaker))))
	return int(h.Sum32() % uint32(n))
}
