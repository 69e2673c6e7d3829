package audio

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// ErrBindExhausted reports that no receive port could be bound within the
// probing window. Fatal to this client's unicast audio.
var ErrBindExhausted = errors.New("no free audio port")

// Unicast is the per-call audio transport. The receive socket is bound and
// its loop started as soon as the client is online so the first datagram of
// an about-to-start call is not lost; playback is gated on the active flag,
// and datagrams that arrive outside a call are discarded.
type Unicast struct {
	dev Device
	log *zerolog.Logger

	recv *net.UDPConn
	port int

	active   atomic.Bool
	playback io.WriteCloser

	mu      sync.Mutex
	capture io.ReadCloser
	send    *net.UDPConn

	closeOnce sync.Once
}

// NewUnicast builds an engine that probes receive ports starting at basePort.
func NewUnicast(dev Device, basePort int, logger *zerolog.Logger) *Unicast {
	if basePort <= 0 {
		basePort = DefaultUnicastPort
	}
	return &Unicast{dev: dev, port: basePort, log: logger}
}

// Listen binds the receive socket, probing sequential ports until one is
// free, opens the playback sink, and starts the receive loop.
func (u *Unicast) Listen() error {
	var err error
	for i := 0; i < maxProbeAttempts; i++ {
		var conn *net.UDPConn
		conn, err = net.ListenUDP("udp", &net.UDPAddr{Port: u.port + i})
		if err == nil {
			u.recv = conn
			u.port += i
			break
		}
	}
	if u.recv == nil {
		return fmt.Errorf("%w: probed %d ports from %d: %v", ErrBindExhausted, maxProbeAttempts, u.port, err)
	}

	u.playback, err = u.dev.Playback()
	if err != nil {
		u.recv.Close()
		return fmt.Errorf("open playback: %w", err)
	}

	u.log.Debug().Int("port", u.port).Msg("audio receive socket bound")
	go u.receiveLoop()
	return nil
}

// Port returns the bound receive port, valid after Listen.
func (u *Unicast) Port() int { return u.port }

// Active reports whether playback and sending are currently enabled.
func (u *Unicast) Active() bool { return u.active.Load() }

func (u *Unicast) receiveLoop() {
	buf := make([]byte, FrameSize)
	for {
		n, _, err := u.recv.ReadFromUDP(buf)
		if err != nil {
			// Socket closed; normal termination.
			return
		}
		if !u.active.Load() {
			continue
		}
		if _, err := u.playback.Write(buf[:n]); err != nil {
			u.log.Warn().Err(err).Msg("audio playback write failed")
			return
		}
	}
}

// StartStreaming opens the capture source, enables playback, and starts the
// send loop toward the peer's advertised address and port.
func (u *Unicast) StartStreaming(addr string, port int) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	capture, err := u.dev.Capture()
	if err != nil {
		return fmt.Errorf("open capture: %w", err)
	}

	peer := &net.UDPAddr{IP: net.ParseIP(addr), Port: port}
	conn, err := net.DialUDP("udp", nil, peer)
	if err != nil {
		capture.Close()
		return fmt.Errorf("dial peer audio %s:%d: %w", addr, port, err)
	}

	u.capture = capture
	u.send = conn
	u.active.Store(true)

	u.log.Debug().Str("peer", addr).Int("port", port).Msg("audio streaming started")
	go u.sendLoop(capture, conn)
	return nil
}

func (u *Unicast) sendLoop(capture io.ReadCloser, conn *net.UDPConn) {
	buf := make([]byte, FrameSize)
	for u.active.Load() {
		n, err := io.ReadFull(capture, buf)
		if n > 0 {
			if _, werr := conn.Write(buf[:n]); werr != nil {
				// Peer socket gone; the signaling channel ends the call.
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// StopStreaming disables playback and tears down the capture source and send
// socket. Safe to call repeatedly or before StartStreaming.
func (u *Unicast) StopStreaming() {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.active.Store(false)
	if u.capture != nil {
		u.capture.Close()
		u.capture = nil
	}
	if u.send != nil {
		u.send.Close()
		u.send = nil
	}
}

// Close stops streaming and releases the receive socket and playback sink.
// Idempotent.
func (u *Unicast) Close() {
	u.StopStreaming()
	u.closeOnce.Do(func() {
		if u.recv != nil {
			u.recv.Close()
		}
		if u.playback != nil {
			u.playback.Close()
		}
	})
}
