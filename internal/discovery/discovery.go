// Package discovery advertises the relay on the local network over mDNS.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"

	"github.com/cortexuvula/collabrelay/internal/config"
)

// Advertiser is a registered mDNS service.
type Advertiser struct {
	server   *zeroconf.Server
	instance string
}

// Advertise registers the relay listening on listenAddr. The TXT record
// carries the WebSocket path and build version so clients can connect
// without extra configuration.
func Advertise(cfg config.DiscoveryConfig, listenAddr, path, version string) (*Advertiser, error) {
	port, err := listenPort(listenAddr)
	if err != nil {
		return nil, err
	}
	instance := InstanceName(cfg.Instance)
	server, err := zeroconf.Register(instance, cfg.Service, cfg.Domain, port, TXT(path, version), nil)
	if err != nil {
		return nil, fmt.Errorf("registering mDNS service %s: %w", cfg.Service, err)
	}
	slog.Info("mdns service registered", "instance", instance, "service", cfg.Service, "port", port)
	return &Advertiser{server: server, instance: instance}, nil
}

// Shutdown withdraws the advertisement. Safe on a nil Advertiser.
func (a *Advertiser) Shutdown() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
	slog.Info("mdns service withdrawn", "instance", a.instance)
}

// TXT builds the service's TXT record.
func TXT(path, version string) []string {
	return []string{"path=" + path, "version=" + version}
}

// InstanceName returns name, or collabrelay-<hostname> when name is empty.
func InstanceName(name string) string {
	if name != "" {
		return name
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "collabrelay"
	}
	return "collabrelay-" + host
}

func listenPort(addr string) (int, error) {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("listen address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(p)
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("listen address %q has no usable port", addr)
	}
	return port, nil
}

// Peer is a relay found on the network.
type Peer struct {
	Instance string   `json:"instance"`
	Host     string   `json:"host"`
	Addrs    []string `json:"addrs"`
	Port     int      `json:"port"`
	Path     string   `json:"path,omitempty"`
	Version  string   `json:"version,omitempty"`
}

// Browse collects relays advertising service until ctx ends.
func Browse(ctx context.Context, service, domain string) ([]Peer, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("initializing mDNS resolver: %w", err)
	}
	entries := make(chan *zeroconf.ServiceEntry, 16)
	if err := resolver.Browse(ctx, service, domain, entries); err != nil {
		return nil, fmt.Errorf("browsing %s: %w", service, err)
	}

	seen := make(map[string]Peer)
	for {
		select {
		case e, ok := <-entries:
			if !ok {
				return sortedPeers(seen), nil
			}
			seen[e.Instance] = peerFrom(e)
		case <-ctx.Done():
			return sortedPeers(seen), nil
		}
	}
}

func sortedPeers(seen map[string]Peer) []Peer {
	peers := make([]Peer, 0, len(seen))
	for _, p := range seen {
		peers = append(peers, p)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].Instance < peers[j].Instance })
	return peers
}

func peerFrom(e *zeroconf.ServiceEntry) Peer {
	p := Peer{Instance: e.Instance, Host: e.HostName, Port: e.Port}
	for _, ip := range e.AddrIPv4 {
		p.Addrs = append(p.Addrs, ip.String())
	}
	for _, ip := range e.AddrIPv6 {
		p.Addrs = append(p.Addrs, ip.String())
	}
	for _, kv := range e.Text {
		k, v, _ := strings.Cut(kv, "=")
		switch k {
		case "path":
			p.Path = v
		case "version":
			p.Version = v
		}
	}
	return p
}
