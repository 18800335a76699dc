// Package discovery advertises and finds collabtext agents on the local
// network over mDNS.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/grandcat/zeroconf"
)

// DefaultService is the mDNS service type of collabtext agents.
const DefaultService = "_collabtext._tcp"

// Discovery registers and browses one mDNS domain.
type Discovery struct {
	Domain string
	Logger *slog.Logger
}

// New returns a Discovery for domain, "local." when empty.
func New(domain string, logger *slog.Logger) *Discovery {
	if domain == "" {
		domain = "local."
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Discovery{Domain: domain, Logger: logger}
}

// Advertise announces instance until ctx is done.
func (d *Discovery) Advertise(ctx context.Context, instance, service string, port int, txt []string) error {
	server, err := zeroconf.Register(instance, service, d.Domain, port, txt, nil)
	if err != nil {
		return fmt.Errorf("registering mDNS service %s: %w", service, err)
	}
	d.Logger.Info("mDNS service registered", "instance", instance, "service", service, "port", port)
	<-ctx.Done()
	server.Shutdown()
	d.Logger.Info("mDNS service withdrawn", "instance", instance)
	return nil
}

// Browse calls fn for every peer found until ctx is done.
func (d *Discovery) Browse(ctx context.Context, service string, fn func(Peer)) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("initializing mDNS resolver: %w", err)
	}
	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, service, d.Domain, entries); err != nil {
		return fmt.Errorf("browsing for mDNS service %s: %w", service, err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case entry, ok := <-entries:
			if !ok {
				return nil
			}
			peer := peerFromEntry(entry)
			d.Logger.Debug("mDNS discovered peer", "instance", peer.Instance, "addr", peer.Addr())
			fn(peer)
		}
	}
}

// Peer is an agent found on the network.
type Peer struct {
	Instance string   `json:"instance"`
	Host     string   `json:"host"`
	Port     int      `json:"port"`
	IPs      []net.IP `json:"ips"`
	Text     []string `json:"text,omitempty"`
}

// Addr returns host:port for the first known address.
func (p Peer) Addr() string {
	host := p.Host
	if len(p.IPs) > 0 {
		host = p.IPs[0].String()
	}
	return net.JoinHostPort(host, strconv.Itoa(p.Port))
}

func peerFromEntry(e *zeroconf.ServiceEntry) Peer {
	ips := make([]net.IP, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
	ips = append(ips, e.AddrIPv4...)
	ips = append(ips, e.AddrIPv6...)
	return Peer{
		Instance: e.Instance,
		Host:     e.HostName,
		Port:     e.Port,
		IPs:      ips,
		Text:     e.Text,
	}
}
