package config

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/symgraph/pkg/telemetry"
)

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			PlanCacheSize: 128,
			MaxParallel:   4,
			ScriptTimeout: 5 * time.Second,
		},
		History: HistoryConfig{
			Limit: 20,
		},
		Telemetry: *telemetry.DefaultConfig(),
	}
}

// LoadConfig reads a YAML configuration file over the defaults and
// validates the result. An empty path returns the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ParseGraphYAML decodes and validates a graph document. JSON is accepted
// as a subset of YAML.
func ParseGraphYAML(data []byte) (*GraphDocument, error) {
	var doc GraphDocument
	if err := decodeStrict(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse graph document: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// LoadGraphYAML reads a graph document from a YAML or JSON file.
func LoadGraphYAML(path string) (*GraphDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph %s: %w", path, err)
	}
	doc, err := ParseGraphYAML(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// LoadGraphFile loads a graph document, choosing the format from the path:
// directories and .cue files are CUE, everything else YAML.
func LoadGraphFile(ctx context.Context, path string) (*GraphDocument, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat graph %s: %w", path, err)
	}
	if info.IsDir() || strings.EqualFold(filepath.Ext(path), ".cue") {
		return LoadGraphCUE(ctx, path)
	}
	return LoadGraphYAML(path)
}

// ParseFeedYAML decodes and validates a feed document.
func ParseFeedYAML(data []byte) (*FeedDocument, error) {
	var doc FeedDocument
	if err := decodeStrict(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse feed document: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// LoadFeedYAML reads a feed document from a YAML or JSON file.
func LoadFeedYAML(path string) (*FeedDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read feeds %s: %w", path, err)
	}
	doc, err := ParseFeedYAML(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

func decodeStrict(data []byte, out any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(out)
}
