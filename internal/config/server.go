package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// FakerConfig configures the development party server.
type FakerConfig struct {
	Port string
	// Tokens are the accepted bearer tokens. Empty accepts any token.
	Tokens     []string
	RatePerSec float64
	Burst      int
	PageLimit  int
	SeedFile   string
	WSEnabled  bool
}

func LoadFakerConfig() (*FakerConfig, error) {
	rate, err := strconv.ParseFloat(getEnvOrDefault("FAKER_RATE_PER_SEC", "5"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid FAKER_RATE_PER_SEC: %w", err)
	}
	burst, err := strconv.Atoi(getEnvOrDefault("FAKER_BURST", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid FAKER_BURST: %w", err)
	}
	limit, err := strconv.Atoi(getEnvOrDefault("FAKER_PAGE_LIMIT", "20"))
	if err != nil {
		return nil, fmt.Errorf("invalid FAKER_PAGE_LIMIT: %w", err)
	}

	var tokens []string
	for _, tok := range strings.Split(getEnvOrDefault("FAKER_TOKENS", ""), ",") {
		if tok = strings.TrimSpace(tok); tok != "" {
			tokens = append(tokens, tok)
		}
	}

	cfg := &FakerConfig{
		Port:       getEnvOrDefault("PORT", "8080"),
		Tokens:     tokens,
		RatePerSec: rate,
		Burst:      burst,
		PageLimit:  limit,
		SeedFile:   getEnvOrDefault("FAKER_SEED_FILE", ""),
		WSEnabled:  getEnvOrDefault("FAKER_WS_ENABLED", "true") == "true",
	}

	// Validate
	if cfg.RatePerSec < 0 {
		return nil, fmt.Errorf("invalid FAKER_RATE_PER_SEC: %v (must be >= 0)", cfg.RatePerSec)
	}
	if cfg.PageLimit < 1 {
		return nil, fmt.Errorf("invalid FAKER_PAGE_LIMIT: %d (must be >= 1)", cfg.PageLimit)
	}
	if cfg.SeedFile != "" {
		if _, err := os.Stat(cfg.SeedFile); err != nil {
			return nil, fmt.Errorf("seed file: %w", err)
		}
	}

	return cfg, nil
}

// Allows reports whether token may call the faker. With no configured
// tokens every non-empty token is accepted.
func (c *FakerConfig) Allows(token string) bool {
	if token == "" {
		return false
	}
	if len(c.Tokens) == 0 {
		return true
	}
	for _, t := range c.Tokens {
		if t == token {
			return true
		}
	}
	return false
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
