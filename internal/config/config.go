// Package config loads the dbhub server configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Database is one connection the server opens at startup.
type Database struct {
	ID  string `yaml:"id"`
	DSN string `yaml:"dsn"`
}

// Config mirrors the YAML file.
//
//	http: ":8080"
//	grpc: ":9090"
//	health_check: "@every 30s"
//	databases:
//	  - id: main
//	    dsn: sqlite:/var/lib/dbhub/main.db
type Config struct {
	HTTP        string     `yaml:"http"`
	GRPC        string     `yaml:"grpc"`
	HealthCheck string     `yaml:"health_check"`
	Databases   []Database `yaml:"databases"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		HTTP:        ":8080",
		GRPC:        ":9090",
		HealthCheck: "@every 30s",
	}
}

// Load reads and parses a YAML file.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML on top of Default, expands environment variables in
// DSNs, assigns random ids where missing and validates the result.
func Parse(b []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	for i := range cfg.Databases {
		db := &cfg.Databases[i]
		db.DSN = os.ExpandEnv(strings.TrimSpace(db.DSN))
		if strings.TrimSpace(db.ID) == "" {
			db.ID = uuid.NewString()
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every problem found, combined into one
// *multierror.Error.
func (c Config) Validate() error {
	var result *multierror.Error
	seen := make(map[string]bool, len(c.Databases))
	for i, db := range c.Databases {
		if db.DSN == "" {
			result = multierror.Append(result, fmt.Errorf("databases[%d]: dsn is empty", i))
		}
		if seen[db.ID] {
			result = multierror.Append(result, fmt.Errorf("databases[%d]: duplicate id %q", i, db.ID))
		}
		seen[db.ID] = true
	}
	if c.HealthCheck != "" {
		parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		if _, err := parser.Parse(c.HealthCheck); err != nil {
			result = multierror.Append(result, fmt.Errorf("health_check: invalid schedule %q: %w", c.HealthCheck, err))
		}
	}
	if c.HTTP == "" && c.GRPC == "" {
		result = multierror.Append(result, errors.New("at least one of http or grpc must be set"))
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
