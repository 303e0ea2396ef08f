// Package discovery finds the relay on the local network over mDNS.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"
)

const (
	// Service is the mDNS service type relays register under.
	Service = "_codlab._tcp"
	Domain  = "local."

	pathKey = "path="
)

// ErrNotFound is returned when no relay answered before the lookup ended.
var ErrNotFound = errors.New("no relay found")

// Advertise registers a relay listening on port. Shut the returned server
// down to withdraw the record. An empty instance is derived from the host
// name.
func Advertise(instance string, port int, wsPath string, log *zap.Logger) (*zeroconf.Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if instance == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "localhost"
		}
		instance = "codlab-" + host
	}
	server, err := zeroconf.Register(instance, Service, Domain, port, []string{"txtv=0", pathKey + wsPath}, nil)
	if err != nil {
		return nil, fmt.Errorf("registering mDNS service: %w", err)
	}
	log.Info("mDNS service registered", zap.String("instance", instance), zap.String("service", Service), zap.Int("port", port))
	return server, nil
}

// Lookup browses for relays and returns the websocket address of the first
// one that resolves. It gives up when ctx is done.
func Lookup(ctx context.Context, log *zap.Logger) (string, error) {
	if log == nil {
		log = zap.NewNop()
	}
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", fmt.Errorf("initializing mDNS resolver: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, Service, Domain, entries); err != nil {
		return "", fmt.Errorf("browsing for mDNS services: %w", err)
	}

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return "", ErrNotFound
			}
			url, ok := RelayURL(entry)
			if !ok {
				log.Debug("ignoring relay without address", zap.String("instance", entry.Instance))
				continue
			}
			log.Info("mDNS discovered relay", zap.String("instance", entry.Instance), zap.String("url", url))
			return url, nil
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", ErrNotFound, ctx.Err())
		}
	}
}

// RelayURL builds the websocket address advertised by entry. IPv4 addresses
// are preferred. It reports false when the entry carries no address.
func RelayURL(entry *zeroconf.ServiceEntry) (string, bool) {
	var ip net.IP
	switch {
	case len(entry.AddrIPv4) > 0:
		ip = entry.AddrIPv4[0]
	case len(entry.AddrIPv6) > 0:
		ip = entry.AddrIPv6[0]
	default:
		return "", false
	}

	path := "/ws"
	for _, txt := range entry.Text {
		if v, ok := strings.CutPrefix(txt, pathKey); ok && strings.HasPrefix(v, "/") {
			path = v
		}
	}
	return "ws://" + net.JoinHostPort(ip.String(), strconv.Itoa(entry.Port)) + path, true
}
