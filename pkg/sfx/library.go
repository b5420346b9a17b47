// Package sfx resolves sound-effect cues to library assets by fuzzy label
// match, falling back to a procedurally generated placeholder.
package sfx

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"dubstudio/pkg/script"
)

// IndexFile is the optional asset index inside a library directory.
const IndexFile = "index.yaml"

// Asset is one pre-rendered sound.
type Asset struct {
	Name string   `yaml:"name"`
	File string   `yaml:"file"`
	Tags []string `yaml:"tags"`
	// Gain is applied on top of the mixer's SFX gain. Zero means unity.
	Gain float64 `yaml:"gain"`

	tokens map[string]bool
}

type index struct {
	Assets []*Asset `yaml:"assets"`
}

// Library is the set of assets available for matching.
type Library struct {
	dir    string
	assets []*Asset
}

var audioExts = map[string]bool{".wav": true, ".mp3": true}

// LoadLibrary reads dir/index.yaml, or indexes the audio files in dir by file
// name when there is no index. A missing directory yields an empty library.
func LoadLibrary(dir string) (*Library, error) {
	lib := &Library{dir: dir}
	if dir == "" {
		return lib, nil
	}

	data, err := os.ReadFile(filepath.Join(dir, IndexFile))
	switch {
	case err == nil:
		var idx index
		if err := yaml.Unmarshal(data, &idx); err != nil {
			return nil, fmt.Errorf("failed to parse sfx index: %w", err)
		}
		for _, a := range idx.Assets {
			if a == nil || a.File == "" {
				continue
			}
			if a.Name == "" {
				a.Name = nameFromFile(a.File)
			}
			lib.add(a)
		}
	case os.IsNotExist(err):
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			return lib, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read sfx library: %w", err)
		}
		for _, e := range entries {
			if e.IsDir() || !audioExts[strings.ToLower(filepath.Ext(e.Name()))] {
				continue
			}
			lib.add(&Asset{Name: nameFromFile(e.Name()), File: e.Name()})
		}
	default:
		return nil, fmt.Errorf("failed to read sfx index: %w", err)
	}

	slog.Debug("SFX library loaded", "dir", dir, "assets", len(lib.assets))
	return lib, nil
}

func nameFromFile(file string) string {
	base := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	return strings.NewReplacer("_", " ", "-", " ").Replace(base)
}

func (l *Library) add(a *Asset) {
	a.tokens = make(map[string]bool)
	for _, w := range script.FoldWords(a.Name) {
		a.tokens[w] = true
	}
	for _, tag := range a.Tags {
		for _, w := range script.FoldWords(tag) {
			a.tokens[w] = true
		}
	}
	l.assets = append(l.assets, a)
}

// Len is the number of assets.
func (l *Library) Len() int { return len(l.assets) }

// Path returns the file path of an asset.
func (l *Library) Path(a *Asset) string {
	if filepath.IsAbs(a.File) {
		return a.File
	}
	return filepath.Join(l.dir, a.File)
}

// Match returns the best asset for a cue label and its score in [0, 1]: the
// share of label words found in the asset's name and tags. An exact folded
// name match scores 1. Ties go to the asset with fewer extra words.
func (l *Library) Match(label string) (*Asset, float64) {
	words := script.FoldWords(label)
	if len(words) == 0 || len(l.assets) == 0 {
		return nil, 0
	}
	folded := strings.Join(words, " ")

	type scored struct {
		a     *Asset
		score float64
		extra int
	}
	var best []scored
	for _, a := range l.assets {
		if strings.Join(script.FoldWords(a.Name), " ") == folded {
			return a, 1
		}
		hits := 0
		for _, w := range words {
			if a.tokens[w] || a.tokens[singular(w)] {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		best = append(best, scored{a, float64(hits) / float64(len(words)), len(a.tokens) - hits})
	}
	if len(best) == 0 {
		return nil, 0
	}
	sort.SliceStable(best, func(i, j int) bool {
		if best[i].score != best[j].score {
			return best[i].score > best[j].score
		}
		return best[i].extra < best[j].extra
	})
	return best[0].a, best[0].score
}

func singular(w string) string {
	if len(w) > 3 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss") {
		return w[:len(w)-1]
	}
	return w
}
