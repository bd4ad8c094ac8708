package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// parseYAML decodes YAML content after expanding ${VAR} references from the
// environment. Unknown keys are rejected.
func parseYAML(content string, base Config) (Config, []Warning, error) {
	expanded, empty := expandEnv(content)

	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)

	var payload document
	if err := decoder.Decode(&payload); err != nil {
		if errors.Is(err, io.EOF) {
			warnings, verr := Validate(base)
			if verr != nil {
				return Config{}, nil, verr
			}
			return base, warnings, nil
		}
		return Config{}, nil, fmt.Errorf("parse yaml: %w", err)
	}

	var extra any
	if err := decoder.Decode(&extra); !errors.Is(err, io.EOF) {
		if err != nil {
			return Config{}, nil, fmt.Errorf("parse yaml: %w", err)
		}
		return Config{}, nil, errors.New("multiple YAML documents are not allowed")
	}

	cfg := base
	applied, err := payload.applyTo(&cfg)
	if err != nil {
		return Config{}, nil, err
	}
	warnings := make([]Warning, 0, len(empty)+len(applied))
	for _, name := range empty {
		warnings = append(warnings, Warning{Message: fmt.Sprintf("environment variable %s is unset or empty", name)})
	}
	warnings = append(warnings, applied...)

	validatedWarnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	warnings = append(warnings, validatedWarnings...)
	return cfg, warnings, nil
}

// expandEnv substitutes $VAR and ${VAR} from the environment. It also
// returns the referenced names that resolved to the empty string.
func expandEnv(content string) (string, []string) {
	var empty []string
	seen := make(map[string]bool)
	expanded := os.Expand(content, func(name string) string {
		value := os.Getenv(name)
		if value == "" && !seen[name] {
			seen[name] = true
			empty = append(empty, name)
		}
		return value
	})
	return expanded, empty
}
