package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "MATCHD_"

// Load loads configuration with the following precedence (highest wins):
//
//  1. Environment variables (MATCHD_WORKFLOW_MAX_ITERATIONS, ...)
//  2. YAML config file (if configPath is non-empty and the file exists)
//  3. Defaults
//
// Environment variables map the first underscore-separated token to the
// config section and the rest to the field:
//
//	MATCHD_SERVER_PORT               -> server.port
//	MATCHD_WORKFLOW_MAX_ITERATIONS   -> workflow.max_iterations
//	MATCHD_AGENTS_API_KEY            -> agents.api_key
//
// The loaded configuration is validated before being returned.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	cfg := Default()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			content, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", transformEnv), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// transformEnv maps MATCHD_SECTION_FIELD_NAME to section.field_name.
func transformEnv(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	parts := strings.SplitN(s, "_", 2)
	if len(parts) == 1 {
		return parts[0]
	}
	return parts[0] + "." + parts[1]
}
