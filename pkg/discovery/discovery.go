package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"
)

const (
	// DefaultService is the mDNS service type advertised by docsync servers.
	DefaultService = "_docsync._tcp"

	// DefaultDomain is the mDNS browse and register domain.
	DefaultDomain = "local."

	pathKey = "path"
)

// ErrNotFound is returned by Lookup when no server answered before ctx ended.
var ErrNotFound = errors.New("discovery: no server found")

// Advertisement describes one server endpoint.
type Advertisement struct {
	Instance string
	Service  string
	Domain   string
	Port     int
	Path     string
}

func (a Advertisement) withDefaults() Advertisement {
	if a.Instance == "" {
		host, _ := os.Hostname()
		a.Instance = "docsync-" + host
	}
	if a.Service == "" {
		a.Service = DefaultService
	}
	if a.Domain == "" {
		a.Domain = DefaultDomain
	}
	if a.Path == "" {
		a.Path = "/"
	}
	return a
}

// Advertise registers a over mDNS and keeps it registered until ctx is
// cancelled.
func Advertise(ctx context.Context, a Advertisement) error {
	a = a.withDefaults()
	srv, err := zeroconf.Register(a.Instance, a.Service, a.Domain, a.Port, txtRecords(a.Path), nil)
	if err != nil {
		return fmt.Errorf("discovery: register %s: %w", a.Service, err)
	}
	defer srv.Shutdown()

	slog.Info("discovery: registered", "instance", a.Instance, "service", a.Service, "port", a.Port)
	<-ctx.Done()
	return nil
}

// Lookup browses for service in domain and returns the WebSocket URL of the
// first server that answers. Cancel or bound ctx to limit the wait.
func Lookup(ctx context.Context, service, domain string) (string, error) {
	if service == "" {
		service = DefaultService
	}
	if domain == "" {
		domain = DefaultDomain
	}

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", fmt.Errorf("discovery: resolver: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, service, domain, entries); err != nil {
		return "", fmt.Errorf("discovery: browse %s: %w", service, err)
	}

	for {
		select {
		case <-ctx.Done():
			return "", ErrNotFound
		case e, ok := <-entries:
			if !ok {
				return "", ErrNotFound
			}
			var ip net.IP
			switch {
			case len(e.AddrIPv4) > 0:
				ip = e.AddrIPv4[0]
			case len(e.AddrIPv6) > 0:
				ip = e.AddrIPv6[0]
			default:
				continue
			}
			u := endpointURL(ip.String(), e.Port, pathFromTXT(e.Text))
			slog.Info("discovery: found server", "instance", e.Instance, "url", u)
			return u, nil
		}
	}
}

func txtRecords(path string) []string {
	return []string{pathKey + "=" + path}
}

func pathFromTXT(txt []string) string {
	for _, kv := range txt {
		if v, ok := strings.CutPrefix(kv, pathKey+"="); ok && v != "" {
			return v
		}
	}
	return "/"
}

func endpointURL(host string, port int, path string) string {
	u := url.URL{
		Scheme: "ws",
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   path,
	}
	return u.String()
}
