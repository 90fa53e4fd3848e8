package config

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Parse decodes YAML content over base and validates the result. Unknown keys
// are rejected.
func Parse(content string, base Config) (Config, []Warning, error) {
	cfg := base
	cfg.Vocab.Sets = cloneSets(base.Vocab.Sets)

	if strings.TrimSpace(content) != "" {
		dec := yaml.NewDecoder(strings.NewReader(content))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, nil, fmt.Errorf("decode yaml: %w", err)
		}
	}
	if cfg.Vocab.Sets == nil {
		cfg.Vocab.Sets = map[string]VocabSet{}
	}

	warnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, warnings, nil
}

func cloneSets(in map[string]VocabSet) map[string]VocabSet {
	out := make(map[string]VocabSet, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
