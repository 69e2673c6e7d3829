package audio

import (
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Conference is the multicast audio transport. Every participant joins the
// same group and runs symmetric send and receive loops; there is no server
// in the path and leaving does not notify the group.
type Conference struct {
	dev Device
	log *zerolog.Logger

	active atomic.Bool

	mu       sync.Mutex
	recv     *net.UDPConn
	send     *net.UDPConn
	capture  io.ReadCloser
	playback io.WriteCloser
	joined   bool
}

// NewConference builds a conference engine for the fixed group.
func NewConference(dev Device, logger *zerolog.Logger) *Conference {
	return &Conference{dev: dev, log: logger}
}

// Join opens the devices, joins the multicast group, and starts both loops.
func (c *Conference) Join() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.joined {
		return nil
	}

	playback, err := c.dev.Playback()
	if err != nil {
		return fmt.Errorf("open playback: %w", err)
	}
	capture, err := c.dev.Capture()
	if err != nil {
		playback.Close()
		return fmt.Errorf("open capture: %w", err)
	}

	group := &net.UDPAddr{IP: net.ParseIP(ConferenceGroup), Port: ConferencePort}
	recv, err := net.ListenMulticastUDP("udp4", nil, group)
	if err != nil {
		playback.Close()
		capture.Close()
		return fmt.Errorf("join group %s: %w", group, err)
	}
	send, err := net.DialUDP("udp4", nil, group)
	if err != nil {
		recv.Close()
		playback.Close()
		capture.Close()
		return fmt.Errorf("dial group %s: %w", group, err)
	}

	c.recv, c.send = recv, send
	c.capture, c.playback = capture, playback
	c.joined = true
	c.active.Store(true)

	c.log.Debug().Str("group", group.String()).Msg("joined conference")
	go c.receiveLoop(recv, playback)
	go c.sendLoop(capture, send)
	return nil
}

func (c *Conference) receiveLoop(recv *net.UDPConn, playback io.Writer) {
	buf := make([]byte, FrameSize)
	for {
		n, _, err := recv.ReadFromUDP(buf)
		if err != nil {
			return
		}
		if !c.active.Load() {
			continue
		}
		if _, err := playback.Write(buf[:n]); err != nil {
			c.log.Warn().Err(err).Msg("conference playback write failed")
			return
		}
	}
}

func (c *Conference) sendLoop(capture io.Reader, send *net.UDPConn) {
	buf := make([]byte, FrameSize)
	for c.active.Load() {
		n, err := io.ReadFull(capture, buf)
		if n > 0 {
			if _, werr := send.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// Leave tears everything down. Returns the client to a non-conference state
// without notifying the group. Safe to call repeatedly or before Join.
func (c *Conference) Leave() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.joined {
		return
	}
	c.joined = false
	c.active.Store(false)

	c.recv.Close()
	c.send.Close()
	c.capture.Close()
	c.playback.Close()
	c.recv, c.send, c.capture, c.playback = nil, nil, nil, nil

	c.log.Debug().Msg("left conference")
}
