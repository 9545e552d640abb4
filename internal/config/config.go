package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for wabridge.
type Config struct {
	General  GeneralConfig  `json:"general" yaml:"general"`
	Server   ServerConfig   `json:"server" yaml:"server"`
	WhatsApp WhatsAppConfig `json:"whatsapp" yaml:"whatsapp"`
	Agent    AgentConfig    `json:"agent" yaml:"agent"`
	Audit    AuditConfig    `json:"audit" yaml:"audit"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel" yaml:"logLevel"` // debug | info | warn | error
	LogFile  string `json:"logFile,omitempty" yaml:"logFile,omitempty"`
}

type ServerConfig struct {
	Host        string `json:"host" yaml:"host"`
	Port        int    `json:"port" yaml:"port"`
	WebhookPath string `json:"webhookPath" yaml:"webhookPath"`
}

// WhatsAppConfig covers both webhook verification and the outbound Cloud API.
type WhatsAppConfig struct {
	VerifyToken   string `json:"verifyToken" yaml:"verifyToken"`
	AccessToken   string `json:"accessToken" yaml:"accessToken"`
	PhoneNumberID string `json:"phoneNumberId" yaml:"phoneNumberId"`
	APIVersion    string `json:"apiVersion" yaml:"apiVersion"`
}

// AgentConfig identifies the Bedrock agent and its invocation timeouts.
// Agent reasoning is slow and variable, so the read timeout is minutes-scale
// while connectivity failure fails fast.
type AgentConfig struct {
	AgentID               string `json:"agentId" yaml:"agentId"`
	AliasID               string `json:"aliasId" yaml:"aliasId"`
	Region                string `json:"region" yaml:"region"`
	ReadTimeoutSeconds    int    `json:"readTimeoutSeconds" yaml:"readTimeoutSeconds"`
	ConnectTimeoutSeconds int    `json:"connectTimeoutSeconds" yaml:"connectTimeoutSeconds"`
}

type AuditConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Backend string `json:"backend" yaml:"backend"` // "s3" | "sqlite"
	Bucket  string `json:"bucket,omitempty" yaml:"bucket,omitempty"`
	DBPath  string `json:"dbPath,omitempty" yaml:"dbPath,omitempty"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.wabridge).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".wabridge"
	}
	return filepath.Join(home, ".wabridge")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads a config file (JSON or YAML by extension), expands environment
// references, overlays it on Defaults, and validates the result.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	expandSecrets(cfg)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Audit.DBPath = ExpandPath(cfg.Audit.DBPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset
// or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // keep original if no env var and no default
		}
		return val
	})
}

// expandSecrets resolves ${VAR} references that survive the merge with
// Defaults, i.e. fields the config file did not override. A reference whose
// variable is unset and has no default collapses to the empty string so a
// missing credential reads as "not configured" rather than a literal "${...}".
func expandSecrets(cfg *Config) {
	fields := []*string{
		&cfg.WhatsApp.VerifyToken,
		&cfg.WhatsApp.AccessToken,
		&cfg.WhatsApp.PhoneNumberID,
		&cfg.Agent.AgentID,
		&cfg.Agent.AliasID,
		&cfg.Agent.Region,
		&cfg.Audit.Bucket,
	}
	for _, f := range fields {
		v := ExpandEnvVars(*f)
		if envVarPattern.MatchString(v) {
			v = envVarPattern.ReplaceAllString(v, "")
		}
		*f = v
	}
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if cfg.Server.WebhookPath != "" && !strings.HasPrefix(cfg.Server.WebhookPath, "/") {
		errs = append(errs, "server.webhookPath must start with /")
	}

	if cfg.WhatsApp.APIVersion == "" {
		errs = append(errs, "whatsapp.apiVersion must not be empty")
	}

	if cfg.Agent.ReadTimeoutSeconds < 1 {
		errs = append(errs, "agent.readTimeoutSeconds must be >= 1")
	}
	if cfg.Agent.ConnectTimeoutSeconds < 1 {
		errs = append(errs, "agent.connectTimeoutSeconds must be >= 1")
	}

	switch cfg.Audit.Backend {
	case "", "s3", "sqlite":
		// valid
	default:
		errs = append(errs, "audit.backend must be one of: s3, sqlite")
	}
	if cfg.Audit.Enabled && cfg.Audit.Backend == "s3" && cfg.Audit.Bucket == "" {
		errs = append(errs, "audit.bucket is required for the s3 backend")
	}
	if cfg.Audit.Enabled && cfg.Audit.Backend == "sqlite" && cfg.Audit.DBPath == "" {
		errs = append(errs, "audit.dbPath is required for the sqlite backend")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
