package p2p

import (
	"bufio"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// HandshakeState is the per-peer session state machine of spec §3.
type HandshakeState int

const (
	Unconnected HandshakeState = iota
	VersionSent
	Ready
)

func (s HandshakeState) String() string {
	switch s {
	case Unconnected:
		return "UNCONNECTED"
	case VersionSent:
		return "VERSION_SENT"
	case Ready:
		return "READY"
	default:
		return "UNKNOWN"
	}
}

// readTimeout bounds a single frame read; the spec leaves per-request
// timeouts unenforced in the source and recommends adding one.
const readTimeout = 2 * time.Minute

// Peer is a live network session (spec §3): remote address, I/O streams,
// handshake state, and the peer's last-declared best height.
type Peer struct {
	conn    net.Conn
	addr    string
	inbound bool

	mu         sync.Mutex
	state      HandshakeState
	bestHeight uint64

	send    chan *Frame
	receive chan *Frame
	quit    chan struct{}
	wg      sync.WaitGroup

	log zerolog.Logger
}

// NewPeer wraps an established connection.
func NewPeer(conn net.Conn, inbound bool, log zerolog.Logger) *Peer {
	return &Peer{
		conn:    conn,
		addr:    conn.RemoteAddr().String(),
		inbound: inbound,
		state:   Unconnected,
		send:    make(chan *Frame, 100),
		receive: make(chan *Frame, 100),
		quit:    make(chan struct{}),
		log:     log.With().Str("peer", conn.RemoteAddr().String()).Logger(),
	}
}

// Address returns the peer's remote address.
func (p *Peer) Address() string { return p.addr }

// Inbound reports whether the peer connected to us.
func (p *Peer) Inbound() bool { return p.inbound }

// State returns the current handshake state.
func (p *Peer) State() HandshakeState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Peer) setState(s HandshakeState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// BestHeight returns the peer's last-declared best height.
func (p *Peer) BestHeight() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bestHeight
}

func (p *Peer) setBestHeight(h uint64) {
	p.mu.Lock()
	p.bestHeight = h
	p.mu.Unlock()
}

// Receive exposes the inbound frame channel for a manager's dispatch loop.
func (p *Peer) Receive() <-chan *Frame { return p.receive }

// Start launches the read and write loops, maxPayload bounding incoming
// frame size (spec §4.7).
func (p *Peer) Start(maxPayload uint32) {
	p.wg.Add(2)
	go p.readLoop(maxPayload)
	go p.writeLoop()
}

// Stop closes the connection and waits for both loops to exit.
func (p *Peer) Stop() {
	select {
	case <-p.quit:
	default:
		close(p.quit)
	}
	p.conn.Close()
	p.wg.Wait()
}

// Send queues a frame for delivery, dropping it silently if the peer is
// shutting down.
func (p *Peer) Send(f *Frame) {
	select {
	case p.send <- f:
	case <-p.quit:
	}
}

func (p *Peer) readLoop(maxPayload uint32) {
	defer p.wg.Done()
	defer close(p.receive)

	reader := bufio.NewReader(p.conn)
	for {
		select {
		case <-p.quit:
			return
		default:
		}

		p.conn.SetReadDeadline(time.Now().Add(readTimeout))
		frame, err := ReadFrame(reader, maxPayload)
		if err != nil {
			p.log.Debug().Err(err).Msg("peer read loop exiting")
			return
		}

		select {
		case p.receive <- frame:
		case <-p.quit:
			return
		}
	}
}

func (p *Peer) writeLoop() {
	defer p.wg.Done()
	for {
		select {
		case frame := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			encoded, err := frame.Encode()
			if err != nil {
				p.log.Warn().Err(err).Msg("failed to encode outgoing frame")
				continue
			}
			if _, err := p.conn.Write(encoded); err != nil {
				p.log.Debug().Err(err).Msg("peer write loop exiting")
				return
			}
		case <-p.quit:
			return
		}
	}
}
