// Package mdns answers <hostname>.local queries for a bridge.
package mdns

import (
	"fmt"
	"net"
	"strings"

	"github.com/pion/mdns/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// Responder is a running mDNS server.
type Responder struct {
	conn *mdns.Conn
	name string
}

// LocalName returns hostname with the .local suffix.
func LocalName(hostname string) string {
	hostname = strings.TrimSuffix(hostname, ".")
	if strings.HasSuffix(hostname, ".local") {
		return hostname
	}
	return hostname + ".local"
}

// Start listens on the mDNS groups and answers for hostname. IPv6 is optional.
func Start(hostname string) (*Responder, error) {
	name := LocalName(hostname)

	addr4, err := net.ResolveUDPAddr("udp4", mdns.DefaultAddressIPv4)
	if err != nil {
		return nil, fmt.Errorf("resolve mdns ipv4 address: %w", err)
	}
	l4, err := net.ListenUDP("udp4", addr4)
	if err != nil {
		return nil, fmt.Errorf("listen mdns ipv4: %w", err)
	}

	var p6 *ipv6.PacketConn
	if addr6, err := net.ResolveUDPAddr("udp6", mdns.DefaultAddressIPv6); err == nil {
		if l6, err := net.ListenUDP("udp6", addr6); err == nil {
			p6 = ipv6.NewPacketConn(l6)
		} else {
			log.Debug().Err(err).Msg("mDNS IPv6 unavailable")
		}
	}

	conn, err := mdns.Server(ipv4.NewPacketConn(l4), p6, &mdns.Config{
		LocalNames: []string{name},
	})
	if err != nil {
		l4.Close()
		return nil, fmt.Errorf("start mdns server: %w", err)
	}

	log.Info().Str("name", name).Msg("mDNS responder started")
	return &Responder{conn: conn, name: name}, nil
}

// Close stops the responder.
func (r *Responder) Close() error {
	log.Debug().Str("name", r.name).Msg("mDNS responder stopped")
	return r.conn.Close()
}
