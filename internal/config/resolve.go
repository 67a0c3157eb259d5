package config

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/inferencemesh/modelmesh/internal/core/dag"
	"github.com/inferencemesh/modelmesh/internal/core/executor"
	"github.com/inferencemesh/modelmesh/internal/core/model"
	"github.com/inferencemesh/modelmesh/internal/core/pipelinedef"
	"github.com/inferencemesh/modelmesh/internal/core/tensor"
	"github.com/inferencemesh/modelmesh/internal/storage"
)

// ResolveModels turns every ModelEntry in cfg into the per-version
// model.Config map registry.Registry.ApplyDiff expects, discovering
// available version directories under each entry's BasePath through fs
// and applying that entry's VersionPolicy. A bad entry is skipped (not
// fatal), its error returned alongside the entries that did resolve, per
// spec.md §7: "a bad model entry is logged and skipped, leaving the
// previously served state intact for that name."
func ResolveModels(ctx context.Context, cfg *Config, fs storage.FilesystemAdapter) (map[string]map[int64]model.Config, map[string]error) {
	out := make(map[string]map[int64]model.Config, len(cfg.Models))
	errs := make(map[string]error)

	for _, entry := range cfg.Models {
		versions, err := resolveVersions(ctx, entry, fs)
		if err != nil {
			errs[entry.Name] = err
			continue
		}
		base, err := entry.toBaseConfig()
		if err != nil {
			errs[entry.Name] = err
			continue
		}
		perVersion := make(map[int64]model.Config, len(versions))
		for _, v := range versions {
			c := base
			c.BasePath = path.Join(entry.BasePath, strconv.FormatInt(v, 10))
			perVersion[v] = c
		}
		out[entry.Name] = perVersion
	}
	return out, errs
}

// resolveVersions lists BasePath's numeric subdirectories (candidate
// version directories) and applies entry.VersionPolicy: "latest" (default)
// keeps only the highest-numbered directory, "all" keeps every one, and a
// comma-separated list of integers keeps exactly those present.
func resolveVersions(ctx context.Context, entry ModelEntry, fs storage.FilesystemAdapter) ([]int64, error) {
	infos, err := fs.List(ctx, entry.BasePath)
	if err != nil {
		return nil, fmt.Errorf("config: model %q: list %s: %w", entry.Name, entry.BasePath, err)
	}
	var available []int64
	for _, info := range infos {
		if !info.IsDir {
			continue
		}
		v, err := strconv.ParseInt(info.Name, 10, 64)
		if err != nil {
			continue
		}
		available = append(available, v)
	}
	if len(available) == 0 {
		return nil, fmt.Errorf("config: model %q: no version directories found under %s", entry.Name, entry.BasePath)
	}

	policy := strings.ToLower(strings.TrimSpace(entry.VersionPolicy))
	switch {
	case policy == "" || policy == "latest":
		max := available[0]
		for _, v := range available[1:] {
			if v > max {
				max = v
			}
		}
		return []int64{max}, nil
	case policy == "all":
		return available, nil
	default:
		wanted := make(map[int64]bool)
		for _, tok := range strings.Split(entry.VersionPolicy, ",") {
			v, err := strconv.ParseInt(strings.TrimSpace(tok), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("config: model %q: invalid version_policy %q", entry.Name, entry.VersionPolicy)
			}
			wanted[v] = true
		}
		presentSet := make(map[int64]bool, len(available))
		for _, v := range available {
			presentSet[v] = true
		}
		var result []int64
		for v := range wanted {
			if presentSet[v] {
				result = append(result, v)
			}
		}
		if len(result) == 0 {
			return nil, fmt.Errorf("config: model %q: none of the requested versions %q are present", entry.Name, entry.VersionPolicy)
		}
		return result, nil
	}
}

// toBaseConfig converts everything in a ModelEntry that doesn't vary
// per-version into a model.Config template (BasePath is filled in by the
// caller once per resolved version).
func (e ModelEntry) toBaseConfig() (model.Config, error) {
	batch, err := parseBatchSize(e.BatchSize)
	if err != nil {
		return model.Config{}, fmt.Errorf("config: model %q: %w", e.Name, err)
	}
	shapes, err := parseShapes(e.Shape)
	if err != nil {
		return model.Config{}, fmt.Errorf("config: model %q: %w", e.Name, err)
	}
	layouts, err := parseLayouts(e.Layout)
	if err != nil {
		return model.Config{}, fmt.Errorf("config: model %q: %w", e.Name, err)
	}
	return model.Config{
		Device:         e.Device,
		Batch:          batch,
		Nireq:          e.Nireq,
		ShapeOverrides: shapes,
		Layout:         layouts,
		PluginConfig:   e.PluginConfig,
		Stateful:       e.Stateful,
	}, nil
}

// parseBatchSize accepts "auto", "0" or an empty string (both fixed,
// unspecified: the model's own batch size), or a positive integer literal.
func parseBatchSize(raw string) (model.BatchSize, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "0":
		return model.BatchSize{}, nil
	case "auto":
		return model.BatchSize{Auto: true}, nil
	default:
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v <= 0 {
			return model.BatchSize{}, fmt.Errorf("invalid batch_size %q", raw)
		}
		return model.BatchSize{Value: v}, nil
	}
}

// parseShapes parses each "name: dims" entry, where dims is a comma
// separated list of either an integer, "?"/"any" (any dimension), or
// "lo:hi" (a bounded range).
func parseShapes(raw map[string]string) (map[string]tensor.Shape, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]tensor.Shape, len(raw))
	for name, spec := range raw {
		shape, err := parseShape(spec)
		if err != nil {
			return nil, fmt.Errorf("shape %q: %w", name, err)
		}
		out[name] = shape
	}
	return out, nil
}

func parseShape(spec string) (tensor.Shape, error) {
	tokens := strings.Split(spec, ",")
	shape := make(tensor.Shape, 0, len(tokens))
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		switch {
		case tok == "?" || strings.EqualFold(tok, "any"):
			shape = append(shape, tensor.AnyDim())
		case strings.Contains(tok, ":"):
			parts := strings.SplitN(tok, ":", 2)
			lo, errLo := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
			hi, errHi := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
			if errLo != nil || errHi != nil {
				return nil, fmt.Errorf("invalid range dimension %q", tok)
			}
			shape = append(shape, tensor.Range(lo, hi))
		default:
			v, err := strconv.ParseInt(tok, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid dimension %q", tok)
			}
			shape = append(shape, tensor.Static(v))
		}
	}
	return shape, nil
}

// parseLayouts parses each "name: TAGS" entry, where TAGS is a comma
// separated list of axis tags (e.g. "N,H,W,C").
func parseLayouts(raw map[string]string) (map[string]tensor.Layout, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]tensor.Layout, len(raw))
	for name, spec := range raw {
		tags := strings.Split(spec, ",")
		layout := make(tensor.Layout, 0, len(tags))
		for _, tag := range tags {
			tag = strings.TrimSpace(tag)
			if tag == "" {
				return nil, fmt.Errorf("layout %q: empty axis tag", name)
			}
			layout = append(layout, tensor.AxisTag(tag))
		}
		out[name] = layout
	}
	return out, nil
}

// ResolvePipelines converts every PipelineEntry into the pipelinedef.Desc
// map PipelineRegistry.ApplyDiff expects: each OutputEntry becomes a
// Connection into the pipeline's EXIT node alongside the entry's own
// interior Connections.
func ResolvePipelines(cfg *Config) map[string]pipelinedef.Desc {
	out := make(map[string]pipelinedef.Desc, len(cfg.Pipelines))
	for _, entry := range cfg.Pipelines {
		out[entry.Name] = entry.toDesc()
	}
	return out
}

func (e PipelineEntry) toDesc() pipelinedef.Desc {
	nodes := make([]dag.NodeInfo, 0, len(e.Nodes))
	var exitName string
	for _, n := range e.Nodes {
		if n.Kind == "EXIT" {
			exitName = n.Name
		}
		nodes = append(nodes, dag.NodeInfo{
			Kind:          parseKind(n.Kind),
			Name:          n.Name,
			ModelName:     n.ModelName,
			ModelVersion:  n.ModelVersion,
			OutputAliases: n.OutputAliases,
			Demultiply: dag.DemultiplyCount{
				Enabled: n.Demultiply.Enabled,
				Any:     n.Demultiply.Any,
				Fixed:   n.Demultiply.Fixed,
			},
			GatherFrom: n.GatherFrom,
		})
	}

	conns := make([]dag.Connection, 0, len(e.Connections)+len(e.Outputs))
	for _, c := range e.Connections {
		conns = append(conns, dag.Connection{
			FromNode: c.FromNode, FromOutput: c.FromOutput,
			ToNode: c.ToNode, ToInput: c.ToInput,
		})
	}
	for _, o := range e.Outputs {
		conns = append(conns, dag.Connection{
			FromNode: o.SourceNode, FromOutput: o.SourceOutput,
			ToNode: exitName, ToInput: o.Alias,
		})
	}

	return pipelinedef.Desc{
		Nodes:       nodes,
		Connections: conns,
		ExecOptions: executor.Options{Workers: e.Workers},
	}
}

func parseKind(s string) dag.Kind {
	switch s {
	case "ENTRY":
		return dag.KindEntry
	case "EXIT":
		return dag.KindExit
	default:
		return dag.KindDL
	}
}
