// Package config holds server configuration sourced from TOOLBRIDGE_*
// environment variables, optionally overridden by flags.
package config

import (
	"strings"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// ServerConfig holds all server configuration.
type ServerConfig struct {
	Host    string
	Port    int
	Verbose bool
	Debug   bool

	// TargetBaseURL is the upstream OpenAI-compatible API base.
	TargetBaseURL string
	// UpstreamAPIKey, when set, replaces the client's Authorization header
	// on upstream requests.
	UpstreamAPIKey string

	// NoStrict disables the strict-schema transform on outgoing tools.
	NoStrict bool
	// ForceToolChoice sets tool_choice=required whenever tools are present.
	ForceToolChoice bool
	// DumpFile, when set, receives the final outgoing message array and tool
	// list of each request for diagnostics.
	DumpFile string
	// SettingsFile points at the replacement-rule settings (yaml or json).
	SettingsFile string
}

// Load creates a ServerConfig from defaults and TOOLBRIDGE_* environment
// variables.
func Load() *ServerConfig {
	k := koanf.New(".")
	_ = k.Load(env.Provider("TOOLBRIDGE_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "TOOLBRIDGE_"))
	}), nil)

	cfg := &ServerConfig{
		Host:          "127.0.0.1",
		Port:          8000,
		TargetBaseURL: "https://api.openai.com/v1",
		SettingsFile:  "setting.yaml",
	}
	if v := k.String("host"); v != "" {
		cfg.Host = v
	}
	if v := k.Int("port"); v != 0 {
		cfg.Port = v
	}
	cfg.Verbose = k.Bool("verbose")
	cfg.Debug = k.Bool("debug")
	if v := k.String("target_base_url"); v != "" {
		cfg.TargetBaseURL = strings.TrimRight(v, "/")
	}
	cfg.UpstreamAPIKey = strings.TrimSpace(k.String("upstream_api_key"))
	cfg.NoStrict = k.Bool("no_strict")
	cfg.ForceToolChoice = k.Bool("force_tool_choice")
	cfg.DumpFile = k.String("dump_file")
	if v := k.String("settings_file"); v != "" {
		cfg.SettingsFile = v
	}
	return cfg
}
