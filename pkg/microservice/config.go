// Package microservice holds what every deployable service shares: its base
// configuration, config file loading and the health HTTP server.
package microservice

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// BaseConfig holds common configuration fields for all services.
type BaseConfig struct {
	LogLevel        string `yaml:"log_level"`
	HTTPPort        string `yaml:"http_port"`
	ProjectID       string `yaml:"project_id"`
	CredentialsFile string `yaml:"credentials_file"`
	ServiceName     string `yaml:"service_name"`
}

// ApplyEnv overrides the base settings with LOG_LEVEL, HTTP_PORT,
// GCP_PROJECT_ID and GOOGLE_APPLICATION_CREDENTIALS when set.
func (c *BaseConfig) ApplyEnv() {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("HTTP_PORT"); v != "" {
		c.HTTPPort = v
	}
	if v := os.Getenv("GCP_PROJECT_ID"); v != "" {
		c.ProjectID = v
	}
	if v := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); v != "" {
		c.CredentialsFile = v
	}
	if c.HTTPPort == "" {
		c.HTTPPort = ":8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// LoadYAML decodes the YAML file at path into out. Unknown keys are rejected.
// An empty path or an empty file leaves out unchanged.
func LoadYAML(path string, out any) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}
