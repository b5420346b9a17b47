package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"dubstudio/pkg/model"
	"dubstudio/pkg/orchestrator"
	"dubstudio/pkg/pipeline"
)

type renderArgs struct {
	ScriptPath string
	SourcePath string
	TextPath   string
	Engine     string
	Language   string
	Mode       string
	Speed      float64
	Out        string
}

func parseRenderArgs(args []string) (*renderArgs, error) {
	fs := flag.NewFlagSet("render", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	a := &renderArgs{}
	fs.StringVar(&a.ScriptPath, "script", "", "Script file to render (- reads stdin)")
	fs.StringVar(&a.SourcePath, "source", "", "Source audio (wav or mp3) to dub over")
	fs.StringVar(&a.TextPath, "source-text", "", "Prose the script was adapted from")
	fs.StringVar(&a.Engine, "engine", "", "Synthesis engine (defaults to the configured one)")
	fs.StringVar(&a.Language, "lang", "", "Target language, e.g. hi-IN")
	fs.StringVar(&a.Mode, "mode", string(orchestrator.ModeAuto), "auto, segmented or multi-speaker")
	fs.Float64Var(&a.Speed, "speed", 0, "Speaking rate multiplier")
	fs.StringVar(&a.Out, "out", "render.wav", "Output WAV path; the report is written beside it")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if a.ScriptPath == "" {
		return nil, errors.New("render: -script is required")
	}
	switch orchestrator.Mode(a.Mode) {
	case orchestrator.ModeAuto, orchestrator.ModeSegmented, orchestrator.ModeMultiSpeaker:
	default:
		return nil, fmt.Errorf("render: unknown mode %q", a.Mode)
	}
	return a, nil
}

// request reads the input files into a pipeline request.
func (a *renderArgs) request(stdin io.Reader) (*pipeline.Request, error) {
	var (
		text []byte
		err  error
	)
	if a.ScriptPath == "-" {
		text, err = io.ReadAll(stdin)
	} else {
		text, err = os.ReadFile(a.ScriptPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	req := &pipeline.Request{
		Script:   string(text),
		Engine:   a.Engine,
		Language: a.Language,
		Speed:    a.Speed,
		Mode:     orchestrator.Mode(a.Mode),
	}
	if a.SourcePath != "" {
		if req.Source, err = os.ReadFile(a.SourcePath); err != nil {
			return nil, fmt.Errorf("failed to read source audio: %w", err)
		}
	}
	if a.TextPath != "" {
		src, err := os.ReadFile(a.TextPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read source text: %w", err)
		}
		req.SourceText = string(src)
	}
	return req, nil
}

// reportPath is the .json file written beside the output WAV.
func reportPath(out string) string {
	return strings.TrimSuffix(out, filepath.Ext(out)) + ".json"
}

// runRender renders one script synchronously and writes the mix and its
// alignment report.
func runRender(ctx context.Context, path string, args []string, w io.Writer) error {
	a, err := parseRenderArgs(args)
	if err != nil {
		return err
	}
	req, err := a.request(os.Stdin)
	if err != nil {
		return err
	}

	cfg, cleanupLogs, err := setup(path)
	if err != nil {
		return err
	}
	defer cleanupLogs()

	app, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	res, err := app.Service.Generate(ctx, req)
	if err != nil {
		return fmt.Errorf("%s (%w)", model.UserMessage(err), err)
	}
	return writeRender(a.Out, res, w)
}

func writeRender(out string, res *pipeline.Result, w io.Writer) error {
	if dir := filepath.Dir(out); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if err := os.WriteFile(out, res.WAV, 0o644); err != nil {
		return fmt.Errorf("failed to write render: %w", err)
	}
	report, err := json.MarshalIndent(struct {
		Report      *model.AlignmentReport `json:"report"`
		Diagnostics *model.Diagnostics     `json:"diagnostics"`
		Voices      map[string]string      `json:"voices"`
	}{res.Report, res.Diagnostics, res.VoiceMap}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(reportPath(out), report, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	r := res.Report
	fmt.Fprintf(w, "Wrote %s (%.1fs)\n", out, res.Audio.Seconds())
	fmt.Fprintf(w, "Coverage %.0f%%  lip-sync %d/100  ok=%t\n", r.CoveragePct, r.LipSyncScore, r.OK)
	for _, n := range r.Notes {
		fmt.Fprintf(w, "  - %s\n", n)
	}
	return nil
}
