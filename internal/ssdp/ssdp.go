// Package ssdp announces a bridge on the local network and answers M-SEARCH
// discovery requests.
package ssdp

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/ipv4"
)

const (
	// MulticastAddr is the SSDP group and port.
	MulticastAddr = "239.255.255.250:1900"
	// ServerHeader identifies the bridge firmware to clients.
	ServerHeader = "Linux/3.14.0 UPnP/1.0 IpBridge/1.20.0"
	// DefaultInterval is the period between NOTIFY rounds.
	DefaultInterval = 30 * time.Second

	uuidPrefix = "uuid:2f402f80-da50-11e1-9b23-"
)

// Advertisement describes what a bridge announces.
type Advertisement struct {
	Address  string
	Port     int
	MAC      string
	BridgeID string
}

func (a Advertisement) uuid() string {
	return uuidPrefix + strings.ReplaceAll(a.MAC, ":", "")
}

func (a Advertisement) targets() []string {
	return []string{"upnp:rootdevice", a.uuid(), "urn:schemas-upnp-org:device:basic:1"}
}

func (a Advertisement) headers() []string {
	return []string{
		"HOST: " + MulticastAddr,
		"CACHE-CONTROL: max-age=100",
		fmt.Sprintf("LOCATION: http://%s:%d/description.xml", a.Address, a.Port),
		"SERVER: " + ServerHeader,
		"hue-bridgeid: " + a.BridgeID,
	}
}

// Notify returns the three NOTIFY ssdp:alive messages.
func (a Advertisement) Notify() [][]byte {
	msgs := make([][]byte, 0, 3)
	for _, nt := range a.targets() {
		lines := append([]string{"NOTIFY * HTTP/1.1"}, a.headers()...)
		lines = append(lines, "NTS: ssdp:alive", "NT: "+nt, "USN: "+a.uuid()+"::upnp:rootdevice")
		msgs = append(msgs, render(lines))
	}
	return msgs
}

// Replies returns the three unicast answers to an M-SEARCH.
func (a Advertisement) Replies() [][]byte {
	msgs := make([][]byte, 0, 3)
	for _, st := range a.targets() {
		lines := append([]string{"HTTP/1.1 200 OK"}, a.headers()...)
		lines = append(lines, "EXT:", "ST: "+st, "USN: "+a.uuid()+"::upnp:rootdevice")
		msgs = append(msgs, render(lines))
	}
	return msgs
}

func render(lines []string) []byte {
	return []byte(strings.Join(lines, "\r\n") + "\r\n\r\n")
}

// IsSearch reports whether packet is an ssdp:discover M-SEARCH request.
func IsSearch(packet []byte) bool {
	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(packet)))
	if err != nil {
		return false
	}
	return req.Method == "M-SEARCH" && strings.Trim(req.Header.Get("MAN"), `"`) == "ssdp:discover"
}

// Responder multicasts NOTIFY rounds and answers searches for one bridge.
type Responder struct {
	adv      Advertisement
	interval time.Duration
	logger   zerolog.Logger
}

// New creates a responder. A zero interval means DefaultInterval.
func New(adv Advertisement, interval time.Duration) *Responder {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Responder{
		adv:      adv,
		interval: interval,
		logger:   log.With().Str("bridge", adv.BridgeID).Logger(),
	}
}

// Run joins the SSDP group and serves until ctx is cancelled.
func (r *Responder) Run(ctx context.Context) error {
	group, err := net.ResolveUDPAddr("udp4", MulticastAddr)
	if err != nil {
		return err
	}
	c, err := net.ListenPacket("udp4", fmt.Sprintf("0.0.0.0:%d", group.Port))
	if err != nil {
		return fmt.Errorf("ssdp listen: %w", err)
	}
	defer c.Close()

	p := ipv4.NewPacketConn(c)
	ifi := interfaceFor(r.adv.Address)
	if err := p.JoinGroup(ifi, &net.UDPAddr{IP: group.IP}); err != nil {
		return fmt.Errorf("ssdp join group: %w", err)
	}
	defer p.LeaveGroup(ifi, &net.UDPAddr{IP: group.IP})
	if ifi != nil {
		if err := p.SetMulticastInterface(ifi); err != nil {
			r.logger.Warn().Err(err).Str("interface", ifi.Name).Msg("Failed to set multicast interface")
		}
	}
	p.SetMulticastTTL(2)
	p.SetMulticastLoopback(true)

	r.logger.Info().Str("address", r.adv.Address).Int("port", r.adv.Port).Msg("SSDP responder started")

	go func() {
		<-ctx.Done()
		c.Close()
	}()
	go r.notifyLoop(ctx, p, group)

	buf := make([]byte, 2048)
	for {
		n, _, src, err := p.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				r.logger.Info().Msg("SSDP responder stopped")
				return nil
			}
			return fmt.Errorf("ssdp read: %w", err)
		}
		if !IsSearch(buf[:n]) {
			continue
		}
		r.logger.Debug().Str("from", src.String()).Msg("M-SEARCH received")
		for _, msg := range r.adv.Replies() {
			if _, err := p.WriteTo(msg, nil, src); err != nil {
				r.logger.Warn().Err(err).Str("to", src.String()).Msg("Failed to answer M-SEARCH")
				break
			}
		}
	}
}

func (r *Responder) notifyLoop(ctx context.Context, p *ipv4.PacketConn, group *net.UDPAddr) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		for _, msg := range r.adv.Notify() {
			if _, err := p.WriteTo(msg, nil, group); err != nil {
				if ctx.Err() == nil {
					r.logger.Warn().Err(err).Msg("Failed to send NOTIFY")
				}
				break
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// interfaceFor finds the interface holding address. nil lets the system choose.
func interfaceFor(address string) *net.Interface {
	ip := net.ParseIP(address)
	if ip == nil {
		return nil
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	for i := range ifaces {
		addrs, err := ifaces[i].Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if n, ok := a.(*net.IPNet); ok && n.IP.Equal(ip) {
				return &ifaces[i]
			}
		}
	}
	return nil
}
