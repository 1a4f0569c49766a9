package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Missing-website policies for batch enrichment.
const (
	PolicySkip   = "skip"
	PolicyReject = "reject"
)

// Validate checks the keys required by the given command mode
// ("enrich", "serve" or "store").
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "store":
		errs = append(errs, c.validateStore()...)
	case "enrich":
		errs = append(errs, c.validateStore()...)
		errs = append(errs, c.validateAI()...)
		errs = append(errs, c.validateBatch()...)
	case "serve":
		errs = append(errs, c.validateStore()...)
		errs = append(errs, c.validateAI()...)
		errs = append(errs, c.validateBatch()...)
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStore() []string {
	var errs []string
	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	case "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be postgres or sqlite", c.Store.Driver))
	}
	return errs
}

func (c *Config) validateAI() []string {
	var errs []string
	switch c.AI.Provider {
	case "openai":
		if c.AI.OpenAI.Key == "" {
			errs = append(errs, "ai.openai.key is required")
		}
	case "anthropic":
		if c.AI.Anthropic.Key == "" {
			errs = append(errs, "ai.anthropic.key is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("ai.provider %q must be openai or anthropic", c.AI.Provider))
	}
	return errs
}

func (c *Config) validateBatch() []string {
	var errs []string
	if c.Batch.MaxConcurrentLeads < 1 || c.Batch.MaxConcurrentLeads > 50 {
		errs = append(errs, "batch.max_concurrent_leads must be between 1 and 50")
	}
	if c.Batch.TimeoutSecs <= 0 {
		errs = append(errs, "batch.timeout_secs must be > 0")
	}
	switch c.Batch.MissingWebsitePolicy {
	case PolicySkip, PolicyReject:
	default:
		errs = append(errs, fmt.Sprintf("batch.missing_website_policy %q must be skip or reject", c.Batch.MissingWebsitePolicy))
	}
	return errs
}
