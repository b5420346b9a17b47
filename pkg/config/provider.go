package config

import (
	"context"
	"strconv"

	"dubstudio/pkg/store"
)

// Provider defines the interface for accessing unified configuration.
type Provider interface {
	// Render defaults applied to requests that leave them empty.
	ActiveEngine(ctx context.Context) string
	DefaultLanguage(ctx context.Context) string
	DefaultMode(ctx context.Context) string
	DefaultSpeed(ctx context.Context) float64

	// Raw access (for components that need deep access)
	AppConfig() *Config
}

// UnifiedProvider implements Provider by bridging static Config and persistent Store.
type UnifiedProvider struct {
	base  *Config
	store store.StateStore
}

// NewProvider creates a new UnifiedProvider.
func NewProvider(base *Config, st store.StateStore) *UnifiedProvider {
	return &UnifiedProvider{
		base:  base,
		store: st,
	}
}

func (p *UnifiedProvider) AppConfig() *Config { return p.base }

func (p *UnifiedProvider) ActiveEngine(ctx context.Context) string {
	return p.getString(ctx, KeyActiveEngine, p.base.Engines.Active)
}

func (p *UnifiedProvider) DefaultLanguage(ctx context.Context) string {
	return p.getString(ctx, KeyDefaultLanguage, "")
}

func (p *UnifiedProvider) DefaultMode(ctx context.Context) string {
	return p.getString(ctx, KeyDefaultMode, "auto")
}

func (p *UnifiedProvider) DefaultSpeed(ctx context.Context) float64 {
	return p.getFloat64(ctx, KeyDefaultSpeed, 1.0)
}

// --- Helpers ---

func (p *UnifiedProvider) getString(ctx context.Context, key, fallback string) string {
	if p.store != nil {
		if val, ok := p.store.GetState(ctx, key); ok && val != "" {
			return val
		}
	}
	return fallback
}

func (p *UnifiedProvider) getFloat64(ctx context.Context, key string, fallback float64) float64 {
	if p.store != nil {
		if val, ok := p.store.GetState(ctx, key); ok && val != "" {
			if f, err := strconv.ParseFloat(val, 64); err == nil {
				return f
			}
		}
	}
	return fallback
}
