package transport

import (
	"fmt"

	"mcphub/internal/config"
)

// New creates the Transport variant named by the server configuration.
// The configuration is assumed to have passed config validation; the
// guards here cover programmatic construction.
func New(cfg config.ServerConfig) (Transport, error) {
	switch cfg.Transport {
	case config.TransportStdio:
		if cfg.Command == "" {
			return nil, fmt.Errorf("command is required for stdio transport")
		}
		return NewStdioTransport(cfg.Name, cfg.Command, cfg.Args, cfg.Env), nil

	case config.TransportSSE:
		if cfg.URL == "" {
			return nil, fmt.Errorf("url is required for sse transport")
		}
		return NewSSETransport(cfg.Name, cfg.URL, cfg.Headers), nil

	case config.TransportStreamableHTTP:
		if cfg.URL == "" {
			return nil, fmt.Errorf("url is required for streamableHttp transport")
		}
		return NewStreamableHTTPTransport(cfg.Name, cfg.URL, cfg.Headers), nil

	default:
		return nil, fmt.Errorf("unsupported transport type: %s (supported: %s, %s, %s)",
			cfg.Transport, config.TransportStdio, config.TransportSSE, config.TransportStreamableHTTP)
	}
}
