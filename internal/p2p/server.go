package p2p

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/klingecoin/node/internal/metrics"
)

// inboundConnRate and inboundConnBurst bound how fast new inbound peers
// are accepted, so a single remote can't exhaust file descriptors by
// opening connections faster than the dispatch loops can drain them.
const (
	inboundConnRate  = 5 // per second
	inboundConnBurst = 20
)

// Server listens for inbound peers, dials outbound seeds, and dispatches
// every frame through a Manager (spec §4.7, §5 "one task per connection").
type Server struct {
	listenAddr string
	manager    *Manager
	cfg        Config
	log        zerolog.Logger

	acceptLimiter *rate.Limiter
	metrics       *metrics.Metrics

	mu    sync.Mutex
	peers map[*Peer]struct{}

	listener net.Listener
	quit     chan struct{}
	wg       sync.WaitGroup
}

// SetMetrics wires a metrics bundle the server reports its connected-peer
// count through. Nil-safe.
func (s *Server) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// NewServer creates a P2P server bound to listenAddr (host:port).
func NewServer(listenAddr string, manager *Manager, cfg Config, log zerolog.Logger) *Server {
	return &Server{
		listenAddr:    listenAddr,
		manager:       manager,
		cfg:           cfg,
		log:           log,
		acceptLimiter: rate.NewLimiter(inboundConnRate, inboundConnBurst),
		peers:         make(map[*Peer]struct{}),
		quit:          make(chan struct{}),
	}
}

// Start binds the listener and begins accepting connections.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("p2p: listen on %s: %w", s.listenAddr, err)
	}
	s.listener = ln

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop closes the listener and disconnects every peer (spec §5 shutdown
// ordering: P2P listeners stop after mining, before persistence flush).
func (s *Server) Stop() {
	close(s.quit)
	if s.listener != nil {
		s.listener.Close()
	}

	s.mu.Lock()
	peers := make([]*Peer, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	for _, p := range peers {
		p.Stop()
	}
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
				s.log.Warn().Err(err).Msg("accept failed")
				return
			}
		}
		if !s.acceptLimiter.Allow() {
			s.log.Warn().Str("peer", conn.RemoteAddr().String()).Msg("inbound connection rate limit exceeded, dropping")
			conn.Close()
			continue
		}
		s.addPeer(NewPeer(conn, true, s.log))
	}
}

// Dial connects to a seed peer and begins its handshake (spec §4.7
// "on a new outbound connection, the initiator sends version").
func (s *Server) Dial(addr string) error {
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return fmt.Errorf("p2p: dial %s: %w", addr, err)
	}
	p := NewPeer(conn, false, s.log)
	s.addPeer(p)
	return s.manager.SendVersion(p, time.Now().Unix())
}

func (s *Server) addPeer(p *Peer) {
	s.mu.Lock()
	s.peers[p] = struct{}{}
	count := len(s.peers)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.PeerCount.Set(float64(count))
	}

	p.Start(s.cfg.MaxPayloadSize)
	s.wg.Add(1)
	go s.dispatchLoop(p)
}

func (s *Server) dispatchLoop(p *Peer) {
	defer s.wg.Done()
	defer s.removePeer(p)

	for frame := range p.Receive() {
		if err := s.manager.HandleFrame(p, frame); err != nil {
			s.log.Warn().Err(err).Str("peer", p.Address()).Str("command", frame.Command).Msg("protocol violation, disconnecting peer")
			p.Stop()
			return
		}
	}
}

func (s *Server) removePeer(p *Peer) {
	s.mu.Lock()
	delete(s.peers, p)
	count := len(s.peers)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.PeerCount.Set(float64(count))
	}
}

// Peers returns a snapshot of currently connected peers, used for gossip
// fan-out and the gateway's /api/peers surface.
func (s *Server) Peers() []*Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Peer, 0, len(s.peers))
	for p := range s.peers {
		out = append(out, p)
	}
	return out
}
