package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"dubstudio/pkg/alignment"
	"dubstudio/pkg/audio"
	"dubstudio/pkg/cache"
	"dubstudio/pkg/config"
	"dubstudio/pkg/db"
	"dubstudio/pkg/mixer"
	"dubstudio/pkg/orchestrator"
	"dubstudio/pkg/pipeline"
	"dubstudio/pkg/probe"
	"dubstudio/pkg/request"
	"dubstudio/pkg/script"
	"dubstudio/pkg/separation"
	"dubstudio/pkg/sfx"
	"dubstudio/pkg/store"
	"dubstudio/pkg/tracker"
	"dubstudio/pkg/tts"
	"dubstudio/pkg/tts/azure"
	"dubstudio/pkg/tts/edgetts"
	"dubstudio/pkg/tts/fallback"
	"dubstudio/pkg/tts/fishaudio"
	"dubstudio/pkg/tts/gemini"
	"dubstudio/pkg/tts/remote"
	"dubstudio/pkg/tts/sapi"
	"dubstudio/pkg/voice"
)

// clipMemEntries is the size of the in-memory clip cache in front of sqlite.
const clipMemEntries = 256

// App holds the wired services shared by the server and the render command.
type App struct {
	Config   *config.Config
	DB       *db.DB
	Store    *store.SQLiteStore
	Tracker  *tracker.Tracker
	Audio    *audio.Context
	Parser   *script.Parser
	Voices   *voice.Resolver
	Service  *pipeline.Service
	Engines  []string
	Active   string
	Chains   map[string][]string
	Probes   []probe.Result
	closeFns []func()
}

// Close releases the app's resources in reverse order.
func (a *App) Close() {
	for i := len(a.closeFns) - 1; i >= 0; i-- {
		a.closeFns[i]()
	}
}

func initDB(cfg *config.Config) (*db.DB, *store.SQLiteStore, error) {
	dbConn, err := db.Init(cfg.DB.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return dbConn, store.NewSQLiteStore(dbConn), nil
}

// buildApp wires every component from the configuration.
func buildApp(ctx context.Context, cfg *config.Config) (*App, error) {
	dbConn, st, err := initDB(cfg)
	if err != nil {
		return nil, err
	}
	app := &App{
		Config:   cfg,
		DB:       dbConn,
		Store:    st,
		Tracker:  tracker.New(),
		Audio:    audio.NewContext(cfg.Mixer.SampleRate, cfg.Mixer.Channels),
		Chains:   make(map[string][]string),
		closeFns: []func(){func() { st.Close() }},
	}
	app.closeFns = append(app.closeFns, app.Audio.Close)

	app.Parser = script.NewParser(script.Options{
		MaxSpeakerLen:  cfg.Script.MaxSpeakerLen,
		Denylist:       cfg.Script.Denylist,
		WordsPerSecond: cfg.Script.WordsPerSecond,
		SfxSeconds:     cfg.Script.SfxSeconds,
	})

	tables, err := voice.LoadTables(cfg.Voice.GenderTables)
	if err != nil {
		slog.Warn("Gender tables override not usable, using built-in tables", "path", cfg.Voice.GenderTables, "error", err)
		tables = voice.DefaultTables()
	}
	app.Voices = voice.NewResolver(tables, voice.StaticCatalogs())

	reqClient := request.New(cfg.Request, app.Tracker)
	providers := buildProviders(ctx, cfg, reqClient)

	// Startup Probes
	probes := []probe.Probe{
		{Name: "database", Critical: true, Check: dbConn.PingContext},
		{Name: "output directory", Critical: true, Check: probe.WritableDir(cfg.Server.OutputDir)},
	}
	for _, name := range config.EngineNames {
		if p, ok := providers[name]; ok {
			probes = append(probes, probe.Probe{Name: "engine:" + name, Check: engineCheck(cfg, p)})
		}
	}
	app.Probes = probe.Run(ctx, probes)
	if err := probe.AnalyzeResults(app.Probes); err != nil {
		app.Close()
		return nil, fmt.Errorf("startup checks failed: %w", err)
	}
	for _, r := range app.Probes {
		if name, ok := engineProbe(r.Probe.Name); ok && r.Error != nil {
			slog.Warn("Engine disabled", "engine", name, "reason", r.Error)
			delete(providers, name)
		}
	}
	if len(providers) == 0 {
		app.Close()
		return nil, errors.New("no synthesis engine is available")
	}

	refreshCatalogs(ctx, app.Voices, providers)

	lib, err := sfx.LoadLibrary(cfg.SFX.LibraryDir)
	if err != nil {
		slog.Warn("SFX library not usable, cues will be generated", "dir", cfg.SFX.LibraryDir, "error", err)
		lib, _ = sfx.LoadLibrary("")
	}
	sfxRes := sfx.NewResolver(lib, app.Audio, cfg.SFX.MinScore)

	clips := cache.New(st, app.Tracker, clipMemEntries)
	orchs := make(map[string]*orchestrator.Orchestrator, len(providers))
	for _, name := range config.EngineNames {
		p, ok := providers[name]
		if !ok {
			continue
		}
		settings, _ := cfg.Engines.Engine(name)
		chain := fallback.New(p, settings, fallback.Options{
			Audio:   app.Audio,
			Models:  fallback.NewModelCache(time.Duration(settings.ModelTTL)),
			Clips:   clips,
			Tracker: app.Tracker,
		})
		app.Chains[name] = settings.Models
		orchs[name] = orchestrator.New(chain, orchestrator.Options{
			Settings: settings,
			Primary:  name == cfg.Engines.Primary,
			Voices:   app.Voices,
			SFX:      sfxRes,
			Audio:    app.Audio,
			Tracker:  app.Tracker,
		})
		app.Engines = append(app.Engines, name)
	}

	app.Active = cfg.Engines.Active
	if !slices.Contains(app.Engines, app.Active) {
		slog.Warn("Configured engine unavailable, switching", "configured", app.Active, "using", app.Engines[0])
		app.Active = app.Engines[0]
	}

	app.Service = pipeline.NewService(pipeline.Options{
		Parser:    app.Parser,
		Engines:   orchs,
		Active:    app.Active,
		Separator: separation.New(cfg.Separation, reqClient, app.Audio),
		Mixer:     mixer.New(cfg.Mixer),
		Reporter:  alignment.NewReporter(alignment.FromConfig(cfg.Alignment)),
		Audio:     app.Audio,
		Mapping:   cfg.Voice.Mapping,
	})

	slog.Info("Engines ready", "engines", app.Engines, "active", app.Active, "primary", cfg.Engines.Primary)
	return app, nil
}

// buildProviders constructs the enabled engines. Engines that cannot be
// constructed on this host are skipped with a warning.
func buildProviders(ctx context.Context, cfg *config.Config, client *request.Client) map[string]tts.Provider {
	e := cfg.Engines
	out := make(map[string]tts.Provider)
	add := func(name string, enabled bool, build func() (tts.Provider, error)) {
		if !enabled {
			return
		}
		p, err := build()
		if err != nil {
			slog.Warn("Engine not available", "engine", name, "error", err)
			return
		}
		out[name] = p
	}

	add(voice.EngineGemini, e.Gemini.Enabled, func() (tts.Provider, error) {
		return gemini.NewProvider(ctx, e.Gemini)
	})
	add(voice.EngineAzure, e.Azure.Enabled, func() (tts.Provider, error) {
		return azure.NewProvider(e.Azure, client), nil
	})
	add(voice.EngineEdge, e.Edge.Enabled, func() (tts.Provider, error) {
		ep := edgetts.EndpointFromEnv()
		if err := ep.Validate(); err != nil {
			return nil, err
		}
		return edgetts.NewProvider(e.Edge, ep), nil
	})
	add(voice.EngineFishAudio, e.FishAudio.Enabled, func() (tts.Provider, error) {
		return fishaudio.NewProvider(e.FishAudio, client), nil
	})
	add(voice.EngineSAPI, e.SAPI.Enabled, func() (tts.Provider, error) {
		return sapi.NewProvider(e.SAPI)
	})
	add(voice.EngineRemote, e.Remote.Enabled, func() (tts.Provider, error) {
		if e.Remote.URL == "" {
			return nil, errors.New("no backend url configured")
		}
		return remote.NewProvider(e.Remote, client), nil
	})
	return out
}

// engineCheck verifies the credentials an engine needs.
func engineCheck(cfg *config.Config, p tts.Provider) probe.CheckFunc {
	e := cfg.Engines
	switch p.Name() {
	case voice.EngineGemini:
		key := e.Gemini.Key
		if key == "" {
			key = e.Gemini.PersonalKey
		}
		return probe.Credential(p.Name(), key)
	case voice.EngineAzure:
		if e.Azure.Region == "" {
			return probe.Credential(p.Name(), "")
		}
		return probe.Credential(p.Name(), e.Azure.Key)
	case voice.EngineFishAudio:
		return probe.Credential(p.Name(), e.FishAudio.Key)
	}
	return func(context.Context) error { return nil }
}

func engineProbe(name string) (string, bool) {
	const prefix = "engine:"
	if len(name) > len(prefix) && name[:len(prefix)] == prefix {
		return name[len(prefix):], true
	}
	return "", false
}

// refreshCatalogs replaces the built-in catalogs with what each engine
// reports. Failures keep the built-in catalog.
func refreshCatalogs(ctx context.Context, r *voice.Resolver, providers map[string]tts.Provider) {
	ctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	for name, p := range providers {
		voices, err := p.Voices(ctx)
		if err != nil {
			slog.Warn("Voice catalog refresh failed, keeping built-in list", "engine", name, "error", err)
			continue
		}
		if len(voices) > 0 {
			r.SetCatalog(name, voices)
			slog.Debug("Voice catalog loaded", "engine", name, "voices", len(voices))
		}
	}
}
