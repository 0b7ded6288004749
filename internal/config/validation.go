package config

import (
	"fmt"
	"strings"
)

// validTransports lists every transport type the hub can construct.
var validTransports = []TransportType{
	TransportStdio,
	TransportSSE,
	TransportStreamableHTTP,
}

func validTransportNames() []string {
	names := make([]string, 0, len(validTransports))
	for _, t := range validTransports {
		names = append(names, string(t))
	}
	return names
}

// Validate checks a fully-merged ServerConfig. Failures identify the
// offending field; the loader wraps them with the server name and layer.
func (c ServerConfig) Validate() error {
	var errs ValidationErrors

	if strings.TrimSpace(c.Name) == "" {
		errs.Add("name", "is required")
	} else if strings.Contains(c.Name, " ") {
		errs.Add("name", "cannot contain spaces", c.Name)
	}

	switch c.Transport {
	case "":
		errs.Add("transport", "is required")
	case TransportStdio:
		if c.Command == "" {
			errs.Add("command", "is required for stdio transport")
		}
		if c.URL != "" {
			errs.Add("url", "cannot be specified for stdio transport")
		}
		if len(c.Headers) > 0 {
			errs.Add("headers", "cannot be specified for stdio transport")
		}
	case TransportSSE, TransportStreamableHTTP:
		if c.URL == "" {
			errs.Add("url", fmt.Sprintf("is required for %s transport", c.Transport))
		}
		if c.Command != "" {
			errs.Add("command", fmt.Sprintf("cannot be specified for %s transport", c.Transport))
		}
		if len(c.Args) > 0 {
			errs.Add("args", fmt.Sprintf("cannot be specified for %s transport", c.Transport))
		}
	default:
		errs.Add("transport", fmt.Sprintf("must be one of: %s", strings.Join(validTransportNames(), ", ")), string(c.Transport))
	}

	if c.TimeoutSeconds != 0 && (c.TimeoutSeconds < MinTimeoutSeconds || c.TimeoutSeconds > MaxTimeoutSeconds) {
		errs.Add("timeoutSeconds", fmt.Sprintf("must be between %d and %d", MinTimeoutSeconds, MaxTimeoutSeconds), c.TimeoutSeconds)
	}

	for _, p := range c.WatchPaths {
		if strings.TrimSpace(p) == "" {
			errs.Add("watchPaths", "entries cannot be empty")
			break
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
