package protocol

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultPath is where docsync-server mounts its WebSocket endpoint.
const DefaultPath = "/ws"

// WebSocketURL derives the WebSocket address from the service's configured base
// address. http becomes ws and https becomes wss; secure upgrades a plain
// scheme to its TLS variant. A base without a path gets DefaultPath.
func WebSocketURL(base string, secure bool) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("protocol: parse %q: %w", base, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
		if secure {
			u.Scheme = "wss"
		}
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("protocol: unsupported scheme %q in %q", u.Scheme, base)
	}
	if u.Host == "" {
		return "", fmt.Errorf("protocol: missing host in %q", base)
	}
	if strings.TrimSuffix(u.Path, "/") == "" {
		u.Path = DefaultPath
	}
	return u.String(), nil
}
