package config

import (
	"context"
	"log/slog"
	"time"

	"github.com/inferencemesh/modelmesh/internal/core/backend"
	"github.com/inferencemesh/modelmesh/internal/storage"
	"github.com/inferencemesh/modelmesh/pkg/engine"
)

// Poller periodically loads Source, resolves it against fs, and applies
// the result to an Engine's ModelRegistry and PipelineRegistry. Grounded
// on the teacher's ReloadCoordinator (periodic poll + atomic swap of the
// served config), narrowed to a single ticker goroutine since this
// engine's registries already own their own concurrency control.
type Poller struct {
	source Source
	fs     storage.FilesystemAdapter
	eng    *engine.Engine
	logger *slog.Logger
	events EventPublisher
}

// EventPublisher receives a one-word outcome ("applied" or "failed") for
// each model/pipeline name ApplyOnce processes. Poller never imports a
// transport package directly; a caller wires one in with SetEventPublisher
// (e.g. transport.Hub, which implements this interface).
type EventPublisher interface {
	PublishModelEvent(name, outcome string)
	PublishPipelineEvent(name, outcome string)
}

// NewPoller builds a Poller that applies source's config to eng on every
// tick, using fs to discover model version directories.
func NewPoller(source Source, fs storage.FilesystemAdapter, eng *engine.Engine) *Poller {
	return &Poller{source: source, fs: fs, eng: eng, logger: slog.Default()}
}

// SetEventPublisher installs the sink notified of each applied/failed
// model and pipeline name on every ApplyOnce call.
func (p *Poller) SetEventPublisher(ep EventPublisher) {
	p.events = ep
}

// ApplyOnce loads the current config and applies it once, returning the
// per-model and per-pipeline failures (bad entries are skipped, not
// fatal, per spec.md §7).
func (p *Poller) ApplyOnce(ctx context.Context) (modelErrs map[string]error, pipelineErrs map[string]error, err error) {
	cfg, err := p.source.Load(ctx)
	if err != nil {
		return nil, nil, err
	}

	for _, l := range cfg.CustomLoaders {
		if _, lerr := backend.Loader(l.LoaderName); lerr != nil {
			p.logger.Warn("config: custom loader not registered, entry ignored", "loader_name", l.LoaderName, "error", lerr)
		}
	}

	desiredModels, modelErrs := ResolveModels(ctx, cfg, p.fs)
	for name, rerr := range modelErrs {
		p.logger.Error("config: model entry skipped", "model", name, "error", rerr)
		p.publishModel(name, "failed")
	}
	failures := p.eng.Models.ApplyDiff(ctx, desiredModels)
	for name := range desiredModels {
		if _, failed := failures[name]; !failed {
			p.publishModel(name, "applied")
		}
	}
	for name, ferr := range failures {
		p.logger.Error("config: model apply failed", "model", name, "error", ferr)
		p.publishModel(name, "failed")
	}

	desiredPipelines := ResolvePipelines(cfg)
	pipelineErrs = p.eng.ApplyPipelines(ctx, desiredPipelines)
	for name := range desiredPipelines {
		if _, failed := pipelineErrs[name]; !failed {
			p.publishPipeline(name, "applied")
		}
	}
	for name, perr := range pipelineErrs {
		p.logger.Error("config: pipeline validation failed", "pipeline", name, "error", perr)
		p.publishPipeline(name, "failed")
	}

	return modelErrs, pipelineErrs, nil
}

func (p *Poller) publishModel(name, outcome string) {
	if p.events != nil {
		p.events.PublishModelEvent(name, outcome)
	}
}

func (p *Poller) publishPipeline(name, outcome string) {
	if p.events != nil {
		p.events.PublishPipelineEvent(name, outcome)
	}
}

// Run polls source every interval until ctx is done, applying each load.
// The interval is read from the freshly loaded Config on every tick
// (spec.md §6: "poll interval is configurable in whole seconds"), falling
// back to the previous interval if a load fails.
func (p *Poller) Run(ctx context.Context, defaultInterval time.Duration) {
	interval := defaultInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			cfg, err := p.source.Load(ctx)
			if err == nil && cfg.PollIntervalSeconds > 0 {
				interval = time.Duration(cfg.PollIntervalSeconds) * time.Second
			}
			if _, _, err := p.ApplyOnce(ctx); err != nil {
				p.logger.Error("config: poll failed", "error", err)
			}
			timer.Reset(interval)
		}
	}
}
