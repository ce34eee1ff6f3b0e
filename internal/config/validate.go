package config

import (
	"strings"

	"github.com/rotisserie/eris"
)

// ErrInvalid marks configuration problems so the CLI can map them to a
// dedicated exit code.
var ErrInvalid = eris.New("config: invalid")

// Validate checks the configuration for a given command mode. Modes keep
// the checks honest: serve does not need an API key, pricebook loading
// does not need a dataset.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "eval", "infer":
		if c.Dataset.Path == "" {
			problems = append(problems, "dataset.path is required")
		}
		if c.Taxonomy.Path == "" {
			problems = append(problems, "taxonomy.path is required")
		}
		if c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required")
		}
		if c.Eval.MaxConcurrency < 1 || c.Eval.MaxConcurrency > 50 {
			problems = append(problems, "eval.max_concurrency must be between 1 and 50")
		}
		if c.Eval.OccurrenceToleranceSecs <= 0 {
			problems = append(problems, "eval.occurrence_tolerance_secs must be > 0")
		}
		if c.Anthropic.Temperature < 0 || c.Anthropic.Temperature > 1 {
			problems = append(problems, "anthropic.temperature must be between 0 and 1")
		}
	case "pricebook":
		if c.Pricebook.DatabaseURL == "" {
			problems = append(problems, "pricebook.database_url is required")
		}
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
		if c.RunStore.Path == "" {
			problems = append(problems, "run_store.path is required")
		}
	case "view", "export":
		// File paths default; nothing mandatory beyond that.
	default:
		return eris.Wrapf(ErrInvalid, "unknown mode %s", mode)
	}

	if len(problems) > 0 {
		return eris.Wrapf(ErrInvalid, "%s", strings.Join(problems, "; "))
	}
	return nil
}
