package config

import (
	"maps"
	"slices"
	"time"
)

// TransportType identifies how the hub talks to one external server.
type TransportType string

const (
	// TransportStdio spawns a local child process and speaks over its
	// standard input/output streams.
	TransportStdio TransportType = "stdio"
	// TransportSSE opens a persistent Server-Sent-Events stream.
	TransportSSE TransportType = "sse"
	// TransportStreamableHTTP uses chunked HTTP requests over a single
	// logical session.
	TransportStreamableHTTP TransportType = "streamableHttp"
)

// Timeout bounds for per-call budgets.
const (
	DefaultTimeoutSeconds = 60
	MinTimeoutSeconds     = 1
	MaxTimeoutSeconds     = 3600
)

// ServerConfig is one validated server entry from the merged
// configuration. Name is unique within the merged map.
type ServerConfig struct {
	Name      string        `json:"name" yaml:"-"`
	Transport TransportType `json:"transport" yaml:"transport"`

	// stdio connection parameters
	Command string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// sse / streamableHttp connection parameters
	URL     string            `json:"url,omitempty" yaml:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	TimeoutSeconds int      `json:"timeoutSeconds" yaml:"timeoutSeconds,omitempty"`
	WatchPaths     []string `json:"watchPaths,omitempty" yaml:"watchPaths,omitempty"`
	AlwaysAllow    []string `json:"alwaysAllow,omitempty" yaml:"alwaysAllow,omitempty"`
	DisabledTools  []string `json:"disabledTools,omitempty" yaml:"disabledTools,omitempty"`
	Disabled       bool     `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

// Timeout returns the per-call budget as a duration.
func (c ServerConfig) Timeout() time.Duration {
	seconds := c.TimeoutSeconds
	if seconds == 0 {
		seconds = DefaultTimeoutSeconds
	}
	return time.Duration(seconds) * time.Second
}

// IsRemote reports whether the server is reached over the network
// rather than a local subprocess.
func (c ServerConfig) IsRemote() bool {
	return c.Transport == TransportSSE || c.Transport == TransportStreamableHTTP
}

// AllowsTool reports whether the tool is pre-approved for execution
// without an interactive confirmation step.
func (c ServerConfig) AllowsTool(name string) bool {
	return slices.Contains(c.AlwaysAllow, name)
}

// ToolDisabled reports whether the tool is hidden from callers entirely.
func (c ServerConfig) ToolDisabled(name string) bool {
	return slices.Contains(c.DisabledTools, name)
}

// Equal reports whether two configs are identical in every field.
func (c ServerConfig) Equal(other ServerConfig) bool {
	return c.Name == other.Name &&
		c.ConnectionEqual(other) &&
		c.TimeoutSeconds == other.TimeoutSeconds &&
		slices.Equal(c.WatchPaths, other.WatchPaths) &&
		slices.Equal(c.AlwaysAllow, other.AlwaysAllow) &&
		slices.Equal(c.DisabledTools, other.DisabledTools) &&
		c.Disabled == other.Disabled
}

// ConnectionEqual reports whether the transport type and connection
// parameters are identical. A change in any of these requires a full
// restart of the connection; a change confined to the remaining fields
// can be applied live.
func (c ServerConfig) ConnectionEqual(other ServerConfig) bool {
	return c.Transport == other.Transport &&
		c.Command == other.Command &&
		slices.Equal(c.Args, other.Args) &&
		maps.Equal(c.Env, other.Env) &&
		c.URL == other.URL &&
		maps.Equal(c.Headers, other.Headers)
}
