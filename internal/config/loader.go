package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"mcphub/pkg/logging"

	"gopkg.in/yaml.v3"
)

// Layer names used in error reporting.
const (
	LayerGlobal  = "global"
	LayerProject = "project"
)

// SecretSource resolves a ${KEY} reference found in a server's
// connection parameters. The default source is the process environment.
type SecretSource func(key string) (string, bool)

// Loader loads and merges the global and project configuration layers.
type Loader struct {
	secrets SecretSource
}

// NewLoader creates a Loader backed by the process environment.
func NewLoader() *Loader {
	return &Loader{secrets: os.LookupEnv}
}

// NewLoaderWithSecrets creates a Loader with a custom secrets provider.
func NewLoaderWithSecrets(secrets SecretSource) *Loader {
	if secrets == nil {
		secrets = os.LookupEnv
	}
	return &Loader{secrets: secrets}
}

// serverPatch mirrors ServerConfig with pointer fields so the merge can
// distinguish "absent" from "present but zero" in the project layer.
type serverPatch struct {
	Transport      *TransportType     `yaml:"transport"`
	Command        *string            `yaml:"command"`
	Args           *[]string          `yaml:"args"`
	Env            *map[string]string `yaml:"env"`
	URL            *string            `yaml:"url"`
	Headers        *map[string]string `yaml:"headers"`
	TimeoutSeconds *int               `yaml:"timeoutSeconds"`
	WatchPaths     *[]string          `yaml:"watchPaths"`
	AlwaysAllow    *[]string          `yaml:"alwaysAllow"`
	DisabledTools  *[]string          `yaml:"disabledTools"`
	Disabled       *bool              `yaml:"disabled"`
}

// configFile is the schema of one configuration layer.
type configFile struct {
	Servers map[string]serverPatch `yaml:"servers"`
}

// Load reads both layers, merges them, validates every resulting entry,
// and returns the merged map keyed by server name. A missing file is a
// first-run condition, not an error.
func (l *Loader) Load(globalPath, projectPath string) (map[string]ServerConfig, error) {
	globalLayer, err := loadLayer(globalPath, LayerGlobal)
	if err != nil {
		return nil, err
	}
	projectLayer, err := loadLayer(projectPath, LayerProject)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]ServerConfig, len(globalLayer)+len(projectLayer))

	for name, patch := range globalLayer {
		cfg := materialize(name, patch)
		if err := cfg.Validate(); err != nil {
			return nil, &ConfigError{Server: name, Layer: LayerGlobal, Err: err}
		}
		merged[name] = cfg
	}

	for name, patch := range projectLayer {
		var cfg ServerConfig
		if base, ok := merged[name]; ok {
			cfg = overlay(base, patch)
		} else {
			cfg = materialize(name, patch)
		}
		if err := cfg.Validate(); err != nil {
			return nil, &ConfigError{Server: name, Layer: LayerProject, Err: err}
		}
		merged[name] = cfg
	}

	for name, cfg := range merged {
		merged[name] = l.expandSecrets(cfg)
	}

	logging.Info("ConfigLoader", "Loaded %d servers (%d global, %d project entries)",
		len(merged), len(globalLayer), len(projectLayer))
	return merged, nil
}

// loadLayer reads one configuration file with strict decoding. Unknown
// fields and duplicate server names are rejected by the decoder.
func loadLayer(path, layer string) (map[string]serverPatch, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Debug("ConfigLoader", "No %s configuration at %s", layer, path)
			return nil, nil
		}
		return nil, &ConfigError{Layer: layer, Err: fmt.Errorf("failed to read %s: %w", path, err)}
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var file configFile
	if err := dec.Decode(&file); err != nil {
		return nil, &ConfigError{Layer: layer, Err: fmt.Errorf("failed to parse %s: %w", path, err)}
	}

	return file.Servers, nil
}

// materialize turns a patch into a standalone ServerConfig with defaults
// applied.
func materialize(name string, p serverPatch) ServerConfig {
	cfg := ServerConfig{Name: name, TimeoutSeconds: DefaultTimeoutSeconds}
	applyConnection(&cfg, p)
	if p.TimeoutSeconds != nil {
		cfg.TimeoutSeconds = *p.TimeoutSeconds
	}
	if p.WatchPaths != nil {
		cfg.WatchPaths = *p.WatchPaths
	}
	if p.AlwaysAllow != nil {
		cfg.AlwaysAllow = *p.AlwaysAllow
	}
	if p.DisabledTools != nil {
		cfg.DisabledTools = *p.DisabledTools
	}
	if p.Disabled != nil {
		cfg.Disabled = *p.Disabled
	}
	return cfg
}

// overlay merges a project patch onto a copy of the global entry. Fields
// merge individually, except the transport type and connection
// parameters: when the project entry names a transport, the whole
// connection block is taken from the project layer so a global stdio
// server can be cleanly redefined as, say, an SSE server without
// inheriting a stale command or environment.
func overlay(base ServerConfig, p serverPatch) ServerConfig {
	cfg := base

	if p.Transport != nil {
		cfg.Transport = ""
		cfg.Command = ""
		cfg.Args = nil
		cfg.Env = nil
		cfg.URL = ""
		cfg.Headers = nil
		applyConnection(&cfg, p)
	} else {
		if p.Command != nil {
			cfg.Command = *p.Command
		}
		if p.Args != nil {
			cfg.Args = *p.Args
		}
		if p.Env != nil {
			cfg.Env = *p.Env
		}
		if p.URL != nil {
			cfg.URL = *p.URL
		}
		if p.Headers != nil {
			cfg.Headers = *p.Headers
		}
	}

	if p.TimeoutSeconds != nil {
		cfg.TimeoutSeconds = *p.TimeoutSeconds
	}
	// List fields are replaced wholesale, never unioned.
	if p.WatchPaths != nil {
		cfg.WatchPaths = *p.WatchPaths
	}
	if p.AlwaysAllow != nil {
		cfg.AlwaysAllow = *p.AlwaysAllow
	}
	if p.DisabledTools != nil {
		cfg.DisabledTools = *p.DisabledTools
	}
	if p.Disabled != nil {
		cfg.Disabled = *p.Disabled
	}

	return cfg
}

// applyConnection copies the transport type and connection parameters
// present in the patch.
func applyConnection(cfg *ServerConfig, p serverPatch) {
	if p.Transport != nil {
		cfg.Transport = *p.Transport
	}
	if p.Command != nil {
		cfg.Command = *p.Command
	}
	if p.Args != nil {
		cfg.Args = *p.Args
	}
	if p.Env != nil {
		cfg.Env = *p.Env
	}
	if p.URL != nil {
		cfg.URL = *p.URL
	}
	if p.Headers != nil {
		cfg.Headers = *p.Headers
	}
}

// expandSecrets substitutes ${KEY} references in connection parameters
// through the configured secrets source. An unresolvable key expands to
// the empty string, matching shell semantics, and is logged once.
func (l *Loader) expandSecrets(cfg ServerConfig) ServerConfig {
	expand := func(s string) string {
		return os.Expand(s, func(key string) string {
			value, ok := l.secrets(key)
			if !ok {
				logging.Warn("ConfigLoader", "Server %s references undefined secret %q", cfg.Name, key)
				return ""
			}
			return value
		})
	}

	cfg.Command = expand(cfg.Command)
	cfg.URL = expand(cfg.URL)

	if len(cfg.Args) > 0 {
		args := make([]string, len(cfg.Args))
		for i, a := range cfg.Args {
			args[i] = expand(a)
		}
		cfg.Args = args
	}
	if len(cfg.Env) > 0 {
		env := make(map[string]string, len(cfg.Env))
		for k, v := range cfg.Env {
			env[k] = expand(v)
		}
		cfg.Env = env
	}
	if len(cfg.Headers) > 0 {
		headers := make(map[string]string, len(cfg.Headers))
		for k, v := range cfg.Headers {
			headers[k] = expand(v)
		}
		cfg.Headers = headers
	}

	return cfg
}
