package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Request    RequestConfig    `yaml:"request"`
	Log        LogConfig        `yaml:"log"`
	DB         DBConfig         `yaml:"db"`
	Engines    EnginesConfig    `yaml:"engines"`
	Script     ScriptConfig     `yaml:"script"`
	Voice      VoiceConfig      `yaml:"voice"`
	Separation SeparationConfig `yaml:"separation"`
	Mixer      MixerConfig      `yaml:"mixer"`
	Alignment  AlignmentConfig  `yaml:"alignment"`
	SFX        SFXConfig        `yaml:"sfx"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address   string `yaml:"address"`
	OutputDir string `yaml:"output_dir"`
	MaxJobs   int    `yaml:"max_jobs"` // concurrently running jobs
}

// RequestConfig holds HTTP request settings.
type RequestConfig struct {
	Retries     int           `yaml:"retries"`
	Timeout     Duration      `yaml:"timeout"`
	Concurrency int           `yaml:"concurrency"` // in-flight requests per host
	Backoff     BackoffConfig `yaml:"backoff"`
}

// BackoffConfig holds exponential backoff settings.
type BackoffConfig struct {
	BaseDelay Duration `yaml:"base_delay"`
	MaxDelay  Duration `yaml:"max_delay"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Server    LogSettings `yaml:"server"`
	Synthesis LogSettings `yaml:"synthesis"`
	Events    LogSettings `yaml:"events"`
	Trace     bool        `yaml:"trace"`
}

// LogSettings holds settings for a specific logger.
type LogSettings struct {
	Path       string `yaml:"path"`
	Level      string `yaml:"level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// DBConfig holds database settings.
type DBConfig struct {
	Path     string   `yaml:"path"`
	CacheTTL Duration `yaml:"cache_ttl"`
	JobTTL   Duration `yaml:"job_ttl"` // lifetime of finished job records
}

// EnginesConfig selects the active engine and configures each one.
type EnginesConfig struct {
	Active    string          `yaml:"active"`
	Primary   string          `yaml:"primary"` // engine that must not degrade to silence
	Gemini    GeminiConfig    `yaml:"gemini"`
	Azure     AzureConfig     `yaml:"azure_speech"`
	Edge      EdgeConfig      `yaml:"edge_tts"`
	FishAudio FishAudioConfig `yaml:"fish_audio"`
	SAPI      SAPIConfig      `yaml:"windows_sapi"`
	Remote    RemoteConfig    `yaml:"remote"`
}

// EngineSettings are the orchestration knobs every engine carries.
type EngineSettings struct {
	Enabled      bool       `yaml:"enabled"`
	Models       []string   `yaml:"models"`        // preference order, first is forced
	WordLimit    int        `yaml:"word_limit"`    // hard per-request ceiling
	WindowWords  int        `yaml:"window_words"`  // soft per-window budget
	BatchSize    int        `yaml:"batch_size"`    // concurrent segment calls
	Crossfade    Duration   `yaml:"crossfade"`     // window boundary overlap
	Retries      int        `yaml:"retries"`       // attempts per window
	Backoff      []Duration `yaml:"backoff"`       // delay before each retry
	ModelTTL     Duration   `yaml:"model_ttl"`     // discovered-model cache lifetime
	ToneHints    bool       `yaml:"tone_hints"`    // prefix "[tone: x]" to dialogue
	MultiSpeaker bool       `yaml:"multi_speaker"` // allow native multi-speaker requests
}

// GeminiConfig holds settings for Gemini TTS.
type GeminiConfig struct {
	EngineSettings `yaml:",inline"`
	Key            string `yaml:"key"`
	PersonalKey    string `yaml:"personal_key"` // bypass credential when the shared key is throttled
	Voice          string `yaml:"voice"`
}

// AzureConfig holds settings for Azure Speech TTS.
type AzureConfig struct {
	EngineSettings `yaml:",inline"`
	Key            string `yaml:"key"`
	Region         string `yaml:"region"` // e.g., "eastus"
	Voice          string `yaml:"voice"`
}

// EdgeConfig holds settings for Edge TTS.
type EdgeConfig struct {
	EngineSettings `yaml:",inline"`
	Voice          string `yaml:"voice"` // e.g. "en-US-AvaMultilingualNeural"
}

// FishAudioConfig holds settings for Fish Audio TTS.
type FishAudioConfig struct {
	EngineSettings `yaml:",inline"`
	Key            string `yaml:"key"`
	Voice          string `yaml:"voice"` // reference id
}

// SAPIConfig holds settings for the Windows SAPI engine.
type SAPIConfig struct {
	EngineSettings `yaml:",inline"`
	Voice          string `yaml:"voice"`
}

// RemoteConfig holds settings for the generic synthesis backend.
type RemoteConfig struct {
	EngineSettings `yaml:",inline"`
	URL            string `yaml:"url"`
	Key            string `yaml:"key"`
}

// ScriptConfig holds script parser settings.
type ScriptConfig struct {
	MaxSpeakerLen  int      `yaml:"max_speaker_len"`
	Denylist       []string `yaml:"denylist"`
	WordsPerSecond float64  `yaml:"words_per_second"`
	SfxSeconds     float64  `yaml:"sfx_seconds"`
}

// VoiceConfig holds voice resolution settings.
type VoiceConfig struct {
	GenderTables string            `yaml:"gender_tables"` // optional override of the embedded tables
	Mapping      map[string]string `yaml:"mapping"`       // speaker -> voice id
}

// SeparationConfig holds stem separation settings.
type SeparationConfig struct {
	URL         string             `yaml:"url"`
	Timeout     Duration           `yaml:"timeout"`
	LowCut      float64            `yaml:"low_cut_hz"`
	HighCut     float64            `yaml:"high_cut_hz"`
	Attenuation float64            `yaml:"attenuation"`
	Compressor  CompressorSettings `yaml:"compressor"`
}

// CompressorSettings mirror the dynamics stage of the local separator.
type CompressorSettings struct {
	ThresholdDB float64 `yaml:"threshold_db"`
	Ratio       float64 `yaml:"ratio"`
	AttackMs    float64 `yaml:"attack_ms"`
	ReleaseMs   float64 `yaml:"release_ms"`
	MakeupDB    float64 `yaml:"makeup_db"`
}

// MixerConfig holds mixing settings.
type MixerConfig struct {
	SampleRate   int      `yaml:"sample_rate"`
	Channels     int      `yaml:"channels"`
	DuckLevel    float64  `yaml:"duck_level"`
	Fade         Duration `yaml:"fade"`
	EQCenterHz   float64  `yaml:"eq_center_hz"`
	EQQ          float64  `yaml:"eq_q"`
	EQGainDB     float64  `yaml:"eq_gain_db"`
	MinFitRatio  float64  `yaml:"min_fit_ratio"`
	MaxFitRatio  float64  `yaml:"max_fit_ratio"`
	MinFitWindow Duration `yaml:"min_fit_window"`
	SfxGain      float64  `yaml:"sfx_gain"`
}

// AlignmentConfig holds the quality gate thresholds.
type AlignmentConfig struct {
	MinCoveragePct  float64 `yaml:"min_coverage_pct"`
	MaxAvgErrorPct  float64 `yaml:"max_avg_error_pct"`
	MaxPeakErrorPct float64 `yaml:"max_peak_error_pct"`
}

// SFXConfig holds sound effect library settings.
type SFXConfig struct {
	LibraryDir string  `yaml:"library_dir"`
	MinScore   float64 `yaml:"min_score"`
}

func backoff(ds ...time.Duration) []Duration {
	out := make([]Duration, len(ds))
	for i, d := range ds {
		out[i] = Duration(d)
	}
	return out
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:   "localhost:1930",
			OutputDir: "./data/renders",
			MaxJobs:   2,
		},
		Request: RequestConfig{
			Retries:     3,
			Timeout:     Duration(300 * time.Second),
			Concurrency: 4,
			Backoff: BackoffConfig{
				BaseDelay: Duration(500 * time.Millisecond),
				MaxDelay:  Duration(30 * time.Second),
			},
		},
		Log: LogConfig{
			Server: LogSettings{
				Path:       "./logs/server.log",
				Level:      "INFO",
				MaxSizeMB:  20,
				MaxBackups: 5,
				MaxAgeDays: 14,
				Compress:   true,
			},
			Synthesis: LogSettings{
				Path:  "./logs/synthesis.log",
				Level: "INFO",
			},
			Events: LogSettings{
				Path:  "./logs/events.jsonl",
				Level: "INFO",
			},
		},
		DB: DBConfig{
			Path:     "./data/dubstudio.db",
			CacheTTL: Duration(7 * Day),
			JobTTL:   Duration(30 * Day),
		},
		Engines: EnginesConfig{
			Active: "gemini",
			Gemini: GeminiConfig{
				EngineSettings: EngineSettings{
					Enabled:      true,
					Models:       []string{"gemini-2.5-flash-preview-tts", "gemini-2.5-pro-preview-tts"},
					WordLimit:    5000,
					WindowWords:  500,
					BatchSize:    3,
					Crossfade:    Duration(40 * time.Millisecond),
					Retries:      3,
					Backoff:      backoff(time.Second, 3*time.Second, 8*time.Second),
					ModelTTL:     Duration(6 * time.Hour),
					ToneHints:    true,
					MultiSpeaker: true,
				},
				Voice: "Kore",
			},
			Azure: AzureConfig{
				EngineSettings: EngineSettings{
					WordLimit:   4000,
					WindowWords: 600,
					BatchSize:   6,
					Crossfade:   Duration(25 * time.Millisecond),
					Retries:     3,
					Backoff:     backoff(500*time.Millisecond, 2*time.Second, 5*time.Second),
				},
				Voice: "en-US-AvaMultilingualNeural",
			},
			Edge: EdgeConfig{
				EngineSettings: EngineSettings{
					Enabled:     true,
					WordLimit:   3000,
					WindowWords: 400,
					BatchSize:   4,
					Crossfade:   Duration(25 * time.Millisecond),
					Retries:     3,
					Backoff:     backoff(500*time.Millisecond, 2*time.Second, 5*time.Second),
				},
				Voice: "en-US-AvaMultilingualNeural",
			},
			FishAudio: FishAudioConfig{
				EngineSettings: EngineSettings{
					Models:      []string{"s1", "speech-1.6"},
					WordLimit:   3000,
					WindowWords: 400,
					BatchSize:   2,
					Crossfade:   Duration(30 * time.Millisecond),
					Retries:     3,
					Backoff:     backoff(time.Second, 3*time.Second, 6*time.Second),
				},
				Voice: "e58b0d7efca34eb38d5c4985e378abcb",
			},
			SAPI: SAPIConfig{
				EngineSettings: EngineSettings{
					WordLimit:   20000,
					WindowWords: 800,
					BatchSize:   1,
					Crossfade:   Duration(20 * time.Millisecond),
					Retries:     2,
					Backoff:     backoff(200 * time.Millisecond),
				},
			},
			Remote: RemoteConfig{
				EngineSettings: EngineSettings{
					WordLimit:    6000,
					WindowWords:  500,
					BatchSize:    2,
					Crossfade:    Duration(40 * time.Millisecond),
					Retries:      3,
					Backoff:      backoff(time.Second, 3*time.Second, 8*time.Second),
					ToneHints:    true,
					MultiSpeaker: true,
				},
			},
		},
		Script: ScriptConfig{
			MaxSpeakerLen:  40,
			Denylist:       []string{"chapter", "scene", "part", "act", "credits", "title", "episode", "prologue", "epilogue", "intro", "outro", "note", "notes"},
			WordsPerSecond: 2.6,
			SfxSeconds:     2.0,
		},
		Voice: VoiceConfig{
			Mapping: map[string]string{},
		},
		Separation: SeparationConfig{
			Timeout:     Duration(120 * time.Second),
			LowCut:      110,
			HighCut:     5200,
			Attenuation: 0.76,
			Compressor: CompressorSettings{
				ThresholdDB: -24,
				Ratio:       4,
				AttackMs:    5,
				ReleaseMs:   120,
				MakeupDB:    6,
			},
		},
		Mixer: MixerConfig{
			SampleRate:   48000,
			Channels:     2,
			DuckLevel:    0.25,
			Fade:         Duration(150 * time.Millisecond),
			EQCenterHz:   1800,
			EQQ:          0.9,
			EQGainDB:     -9,
			MinFitRatio:  0.7,
			MaxFitRatio:  1.42,
			MinFitWindow: Duration(60 * time.Millisecond),
			SfxGain:      0.8,
		},
		Alignment: AlignmentConfig{
			MinCoveragePct:  95,
			MaxAvgErrorPct:  28,
			MaxPeakErrorPct: 55,
		},
		SFX: SFXConfig{
			LibraryDir: "./data/sfx",
			MinScore:   0.5,
		},
	}
}

// EngineNames lists every engine the configuration knows about.
var EngineNames = []string{"gemini", "azure-speech", "edge-tts", "fish-audio", "windows-sapi", "remote"}

// Engine returns the shared settings of the named engine.
func (e *EnginesConfig) Engine(name string) (EngineSettings, bool) {
	switch name {
	case "gemini":
		return e.Gemini.EngineSettings, true
	case "azure-speech":
		return e.Azure.EngineSettings, true
	case "edge-tts":
		return e.Edge.EngineSettings, true
	case "fish-audio":
		return e.FishAudio.EngineSettings, true
	case "windows-sapi":
		return e.SAPI.EngineSettings, true
	case "remote":
		return e.Remote.EngineSettings, true
	}
	return EngineSettings{}, false
}

// BackoffDurations converts the configured retry delays.
func (s EngineSettings) BackoffDurations() []time.Duration {
	out := make([]time.Duration, len(s.Backoff))
	for i, d := range s.Backoff {
		out[i] = time.Duration(d)
	}
	return out
}

// Load loads the configuration from the given path.
// If the file does not exist, it creates it with default values.
// Existing files are merged over the defaults but never rewritten, so user comments survive.
// Empty credentials are filled from the environment (and a .env beside the config file).
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if err := Save(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to save config file: %w", err)
	}

	applyEnv(cfg)
	expandPaths(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv fills empty secrets from the environment. Nothing is written back to disk.
func applyEnv(cfg *Config) {
	fill := func(dst *string, keys ...string) {
		if *dst != "" {
			return
		}
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				*dst = v
				return
			}
		}
	}
	fill(&cfg.Engines.Gemini.Key, "GEMINI_API_KEY")
	fill(&cfg.Engines.Azure.Key, "AZURE_SPEECH_KEY")
	fill(&cfg.Engines.Azure.Region, "AZURE_SPEECH_REGION")
	fill(&cfg.Engines.FishAudio.Key, "FISH_AUDIO_KEY", "FISH_AUDIO_API_KEY")
	fill(&cfg.Engines.Remote.URL, "DUBSTUDIO_SYNTH_URL")
	fill(&cfg.Separation.URL, "DUBSTUDIO_SEPARATION_URL")

	if lvl := os.Getenv("DUBSTUDIO_LOG_LEVEL"); lvl != "" {
		cfg.Log.Server.Level = strings.ToUpper(lvl)
	}
}

func expandPaths(cfg *Config) {
	for _, p := range []*string{
		&cfg.Server.OutputDir, &cfg.DB.Path, &cfg.Log.Server.Path, &cfg.Log.Synthesis.Path,
		&cfg.Log.Events.Path, &cfg.SFX.LibraryDir, &cfg.Voice.GenderTables,
	} {
		*p = expandPath(*p)
	}
}

var reWinEnv = regexp.MustCompile(`%([A-Za-z_][A-Za-z0-9_]*)%`)

// expandPath resolves $VAR, ${VAR} and %VAR% references.
func expandPath(p string) string {
	if p == "" {
		return p
	}
	p = reWinEnv.ReplaceAllStringFunc(p, func(m string) string {
		return os.Getenv(strings.Trim(m, "%"))
	})
	return os.ExpandEnv(p)
}

// Validate rejects impossible combinations.
func (c *Config) Validate() error {
	if _, ok := c.Engines.Engine(c.Engines.Active); !ok {
		return fmt.Errorf("unknown engine '%s'", c.Engines.Active)
	}
	if c.Engines.Primary != "" {
		if _, ok := c.Engines.Engine(c.Engines.Primary); !ok {
			return fmt.Errorf("unknown primary engine '%s'", c.Engines.Primary)
		}
	}
	for _, name := range EngineNames {
		s, _ := c.Engines.Engine(name)
		if s.WordLimit <= 0 || s.WindowWords <= 0 {
			return fmt.Errorf("engine %s: word budgets must be positive", name)
		}
		if s.WindowWords > s.WordLimit {
			return fmt.Errorf("engine %s: window_words (%d) exceeds word_limit (%d)", name, s.WindowWords, s.WordLimit)
		}
		if s.BatchSize <= 0 {
			return fmt.Errorf("engine %s: batch_size must be positive", name)
		}
	}
	m := c.Mixer
	if m.MinFitRatio <= 0 || m.MaxFitRatio <= 0 || m.MinFitRatio > m.MaxFitRatio {
		return fmt.Errorf("invalid fit ratio bounds [%.2f, %.2f]", m.MinFitRatio, m.MaxFitRatio)
	}
	if m.SampleRate < 8000 {
		return fmt.Errorf("mixer sample_rate %d is too low", m.SampleRate)
	}
	if m.DuckLevel < 0 || m.DuckLevel > 1 {
		return fmt.Errorf("mixer duck_level must be within [0, 1]")
	}
	if c.Separation.Attenuation < 0 || c.Separation.Attenuation > 1 {
		return fmt.Errorf("separation attenuation must be within [0, 1]")
	}
	if c.Separation.LowCut >= c.Separation.HighCut {
		return fmt.Errorf("separation band is empty (%.0f Hz - %.0f Hz)", c.Separation.LowCut, c.Separation.HighCut)
	}
	if c.Script.WordsPerSecond <= 0 {
		return fmt.Errorf("script words_per_second must be positive")
	}
	return nil
}

// Save writes the configuration to the path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# dubstudio configuration
# ------------------------
# Supported Units:
#   Duration: ns, us (or µs), ms, s, m, h, d (day), w (week)
# Secrets may be left empty and supplied through the environment or a .env file:
#   GEMINI_API_KEY, AZURE_SPEECH_KEY, AZURE_SPEECH_REGION, FISH_AUDIO_KEY,
#   DUBSTUDIO_SYNTH_URL, DUBSTUDIO_SEPARATION_URL, DUBSTUDIO_LOG_LEVEL

`)
	data = append(header, data...)

	reActive := regexp.MustCompile(`(?m)^(\s+)active:`)
	data = reActive.ReplaceAll(data, []byte("${1}# Options: gemini, azure-speech, edge-tts, fish-audio, windows-sapi, remote\n${1}active:"))

	rePrimary := regexp.MustCompile(`(?m)^(\s+)primary:`)
	data = rePrimary.ReplaceAll(data, []byte("${1}# Failed segments on this engine fail the job instead of becoming silence\n${1}primary:"))

	reAtt := regexp.MustCompile(`(?m)^(\s+)attenuation:`)
	data = reAtt.ReplaceAll(data, []byte("${1}# Share of the speech band subtracted from the mix when separating locally\n${1}attenuation:"))

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateDefault creates a default config file at the given path.
// Returns nil if the file already exists.
func GenerateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return Save(path, DefaultConfig())
}
