package voice

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"dubstudio/pkg/model"
	"dubstudio/pkg/script"
)

//go:embed data/gender.yaml
var defaultGenderData []byte

// GenderTables are the swappable word lists behind gender inference.
type GenderTables struct {
	Keywords map[model.Gender][]string `yaml:"keywords"`
	Names    map[model.Gender][]string `yaml:"names"`
	Suffixes map[model.Gender][]string `yaml:"suffixes"`

	keywordIdx map[string]model.Gender
	nameIdx    map[string]model.Gender
	suffixes   []suffixRule
}

type suffixRule struct {
	suffix string
	gender model.Gender
}

// DefaultTables returns the bundled tables.
func DefaultTables() *GenderTables {
	t, err := ParseTables(defaultGenderData)
	if err != nil {
		panic(fmt.Sprintf("voice: bundled gender tables are invalid: %v", err))
	}
	return t
}

// LoadTables reads tables from a YAML file; an empty path returns the bundled set.
func LoadTables(path string) (*GenderTables, error) {
	if path == "" {
		return DefaultTables(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read gender tables: %w", err)
	}
	return ParseTables(data)
}

// ParseTables decodes and indexes YAML tables.
func ParseTables(data []byte) (*GenderTables, error) {
	var t GenderTables
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse gender tables: %w", err)
	}
	t.index()
	return &t, nil
}

func (t *GenderTables) index() {
	t.keywordIdx = make(map[string]model.Gender)
	t.nameIdx = make(map[string]model.Gender)
	t.suffixes = nil
	for g, words := range t.Keywords {
		for _, w := range words {
			t.keywordIdx[script.Fold(w)] = g
		}
	}
	for g, words := range t.Names {
		for _, w := range words {
			t.nameIdx[script.Fold(w)] = g
		}
	}
	for g, sfx := range t.Suffixes {
		for _, s := range sfx {
			t.suffixes = append(t.suffixes, suffixRule{suffix: script.Fold(s), gender: g})
		}
	}
	// longest suffix wins
	sort.SliceStable(t.suffixes, func(i, j int) bool {
		if len(t.suffixes[i].suffix) != len(t.suffixes[j].suffix) {
			return len(t.suffixes[i].suffix) > len(t.suffixes[j].suffix)
		}
		return t.suffixes[i].suffix < t.suffixes[j].suffix
	})
}

// Infer guesses a speaker's gender: kinship and title keywords first, then the
// curated name list, then name suffixes.
func (t *GenderTables) Infer(speaker string) model.Gender {
	words := script.FoldWords(speaker)
	if len(words) == 0 {
		return model.GenderUnknown
	}
	for _, w := range words {
		if g, ok := t.keywordIdx[strings.TrimSuffix(w, ".")]; ok {
			return g
		}
	}
	first := words[0]
	if g, ok := t.nameIdx[first]; ok {
		return g
	}
	if len([]rune(first)) < 3 {
		return model.GenderUnknown
	}
	for _, r := range t.suffixes {
		if strings.HasSuffix(first, r.suffix) && len(first) > len(r.suffix) {
			return r.gender
		}
	}
	return model.GenderUnknown
}
