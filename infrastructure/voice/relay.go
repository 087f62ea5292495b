package voice

import (
	"chat-relay/contract"
	"chat-relay/observability"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"slices"
	"strings"
	"sync"

	"github.com/samber/lo"
)

const (
	ServerName = "voice"

	// MaxDatagramSize is the largest packet relayed, type byte included.
	MaxDatagramSize = 1025

	PacketJoin  byte = 1
	PacketAudio byte = 2
)

// Relay rebroadcasts audio datagrams between the participants of a single call.
// Delivery is best effort: nothing is buffered, acknowledged or reordered.
type Relay struct {
	address string
	log     *slog.Logger
	stats   *observability.Stats
	health  contract.IHealthReporter

	mu           sync.RWMutex
	conn         *net.UDPConn
	participants map[string]netip.AddrPort
}

// NewRelay prepares the relay. health may be nil.
func NewRelay(address string, log *slog.Logger, stats *observability.Stats, health contract.IHealthReporter) *Relay {
	return &Relay{
		address:      address,
		log:          log,
		stats:        stats,
		health:       health,
		participants: make(map[string]netip.AddrPort),
	}
}

func (r *Relay) Run(ctx context.Context) error {
	udpAddr, err := net.ResolveUDPAddr("udp", r.address)
	if err != nil {
		return fmt.Errorf("failed to resolve %s address: %w", ServerName, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("failed to start %s server: %w", ServerName, err)
	}
	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()
	r.log.Info("Server started", "server", ServerName, "address", conn.LocalAddr().String())

	if r.health != nil {
		r.health.Serving(ServerName)
		defer r.health.NotServing(ServerName)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	buffer := make([]byte, MaxDatagramSize)
	for {
		n, source, err := conn.ReadFromUDPAddrPort(buffer)
		if err != nil {
			if ctx.Err() != nil {
				r.log.Info("Server stopped", "server", ServerName)
				return nil
			}
			_ = conn.Close()
			return fmt.Errorf("%s read: %w", ServerName, err)
		}
		if n == 0 {
			continue
		}
		r.handle(conn, buffer[:n], source)
	}
}

func (r *Relay) handle(conn *net.UDPConn, packet []byte, source netip.AddrPort) {
	switch packet[0] {
	case PacketJoin:
		username := strings.TrimSpace(string(packet[1:]))
		if username == "" {
			r.log.Debug("Voice join without username", "source", source.String())
			return
		}
		r.mu.Lock()
		r.participants[username] = source
		r.mu.Unlock()
		r.log.Info("Voice participant joined", "user", username, "source", source.String())
	case PacketAudio:
		r.stats.IncrVoiceFrames()
		for _, target := range r.targets(source) {
			if _, err := conn.WriteToUDPAddrPort(packet, target); err != nil {
				r.log.Debug("Voice frame not relayed", "target", target.String(), "error", err)
			}
		}
	default:
		r.log.Debug("Unknown voice packet", "type", packet[0], "source", source.String())
	}
}

// targets lists every participant address except source.
func (r *Relay) targets(source netip.AddrPort) []netip.AddrPort {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Uniq(lo.Filter(lo.Values(r.participants), func(addr netip.AddrPort, _ int) bool {
		return addr != source
	}))
}

// Participants returns the usernames in the call, sorted.
func (r *Relay) Participants() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := lo.Keys(r.participants)
	slices.Sort(names)
	return names
}

// Addr returns the listening address, empty until Run has started listening.
func (r *Relay) Addr() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.conn == nil {
		return ""
	}
	return r.conn.LocalAddr().String()
}
