// Package config loads the polled configuration (spec.md §6's "config
// source"): model entries, pipeline entries, and custom-loader entries,
// validated with struct tags and resolved into the registry/pipelinedef
// apply-diff shapes. Grounded on the teacher's internal/config.Config +
// LoadConfig (viper-backed load) and update_validator.go (struct-tag
// validation via go-playground/validator/v10), narrowed from the
// teacher's hot-reload config-export/sanitize machinery to just load +
// validate + resolve.
package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Config is the top-level polled configuration document.
type Config struct {
	PollIntervalSeconds int                 `mapstructure:"poll_interval_seconds" yaml:"poll_interval_seconds" validate:"required,gte=1"`
	Models              []ModelEntry        `mapstructure:"models" yaml:"models" validate:"dive"`
	Pipelines           []PipelineEntry     `mapstructure:"pipelines" yaml:"pipelines" validate:"dive"`
	CustomLoaders       []CustomLoaderEntry `mapstructure:"custom_loaders" yaml:"custom_loaders" validate:"dive"`
}

// ModelEntry is one model config-source entry (spec.md §6).
type ModelEntry struct {
	Name          string            `mapstructure:"name" yaml:"name" validate:"required"`
	BasePath      string            `mapstructure:"base_path" yaml:"base_path" validate:"required"`
	Device        string            `mapstructure:"device" yaml:"device"`
	BatchSize     string            `mapstructure:"batch_size" yaml:"batch_size"` // "auto", "0", or an integer literal
	Nireq         int               `mapstructure:"nireq" yaml:"nireq" validate:"gte=0"`
	Shape         map[string]string `mapstructure:"shape" yaml:"shape"`
	Layout        map[string]string `mapstructure:"layout" yaml:"layout"`
	PluginConfig  map[string]any    `mapstructure:"plugin_config" yaml:"plugin_config"`
	VersionPolicy string            `mapstructure:"version_policy" yaml:"version_policy"` // "latest", "all", or "1,2,3"
	Stateful      bool              `mapstructure:"stateful" yaml:"stateful"`
}

// NodeEntry is one pipeline node, the config-source encoding of dag.NodeInfo.
type NodeEntry struct {
	Name          string            `mapstructure:"name" yaml:"name" validate:"required"`
	Kind          string            `mapstructure:"kind" yaml:"kind" validate:"required,oneof=ENTRY DL EXIT"`
	ModelName     string            `mapstructure:"model_name" yaml:"model_name"`
	ModelVersion  int64             `mapstructure:"model_version" yaml:"model_version"`
	OutputAliases map[string]string `mapstructure:"output_aliases" yaml:"output_aliases"`
	Demultiply    DemultiplyEntry   `mapstructure:"demultiply" yaml:"demultiply"`
	GatherFrom    []string          `mapstructure:"gather_from" yaml:"gather_from"`
}

// DemultiplyEntry is the config-source encoding of dag.DemultiplyCount.
type DemultiplyEntry struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Any     bool `mapstructure:"any" yaml:"any"`
	Fixed   int  `mapstructure:"fixed" yaml:"fixed"`
}

// ConnectionEntry is one interior data edge between two pipeline nodes.
type ConnectionEntry struct {
	FromNode   string `mapstructure:"from_node" yaml:"from_node" validate:"required"`
	FromOutput string `mapstructure:"from_output" yaml:"from_output" validate:"required"`
	ToNode     string `mapstructure:"to_node" yaml:"to_node" validate:"required"`
	ToInput    string `mapstructure:"to_input" yaml:"to_input" validate:"required"`
}

// OutputEntry binds one pipeline-level output alias to the node output
// that produces it (spec.md §6: `outputs: [{alias, source_node,
// source_output}]`); it is sugar for a ConnectionEntry targeting the
// exit node, kept as its own field to match the config-source wire shape.
type OutputEntry struct {
	Alias        string `mapstructure:"alias" yaml:"alias" validate:"required"`
	SourceNode   string `mapstructure:"source_node" yaml:"source_node" validate:"required"`
	SourceOutput string `mapstructure:"source_output" yaml:"source_output" validate:"required"`
}

// PipelineEntry is one pipeline config-source entry.
type PipelineEntry struct {
	Name        string            `mapstructure:"name" yaml:"name" validate:"required"`
	Inputs      []string          `mapstructure:"inputs" yaml:"inputs"`
	Nodes       []NodeEntry       `mapstructure:"nodes" yaml:"nodes" validate:"required,dive"`
	Connections []ConnectionEntry `mapstructure:"connections" yaml:"connections" validate:"dive"`
	Outputs     []OutputEntry     `mapstructure:"outputs" yaml:"outputs" validate:"required,dive"`
	Workers     int               `mapstructure:"workers" yaml:"workers" validate:"gte=0"`
}

// CustomLoaderEntry is an opaque pass-through to a native plugin
// (spec.md §6); the engine never interprets LibraryPath/ConfigFile itself,
// it only forwards them to backend.RegisterLoader-resolved plugins.
type CustomLoaderEntry struct {
	LoaderName  string `mapstructure:"loader_name" yaml:"loader_name" validate:"required"`
	LibraryPath string `mapstructure:"library_path" yaml:"library_path" validate:"required"`
	ConfigFile  string `mapstructure:"config_file" yaml:"config_file"`
}

// Validate runs struct-tag validation over cfg, matching the teacher's
// update_validator.go use of a shared *validator.Validate instance.
func Validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("config: validation failed: %w", err)
	}
	for i := range cfg.Pipelines {
		if err := validatePipelineShape(&cfg.Pipelines[i]); err != nil {
			return err
		}
	}
	return nil
}

func validatePipelineShape(p *PipelineEntry) error {
	seen := make(map[string]bool, len(p.Nodes))
	var entries, exits int
	for _, n := range p.Nodes {
		if seen[n.Name] {
			return fmt.Errorf("config: pipeline %q: duplicate node name %q", p.Name, n.Name)
		}
		seen[n.Name] = true
		switch n.Kind {
		case "ENTRY":
			entries++
		case "EXIT":
			exits++
		}
	}
	if entries != 1 {
		return fmt.Errorf("config: pipeline %q: expected exactly one ENTRY node, found %d", p.Name, entries)
	}
	if exits != 1 {
		return fmt.Errorf("config: pipeline %q: expected exactly one EXIT node, found %d", p.Name, exits)
	}
	for _, c := range p.Connections {
		if !seen[c.FromNode] {
			return fmt.Errorf("config: pipeline %q: connection refers to unknown node %q", p.Name, c.FromNode)
		}
		if !seen[c.ToNode] {
			return fmt.Errorf("config: pipeline %q: connection refers to unknown node %q", p.Name, c.ToNode)
		}
	}
	for _, o := range p.Outputs {
		if !seen[o.SourceNode] {
			return fmt.Errorf("config: pipeline %q: output %q refers to unknown node %q", p.Name, o.Alias, o.SourceNode)
		}
	}
	return nil
}
