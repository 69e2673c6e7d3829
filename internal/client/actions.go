package client

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/voxlink/voxlink/internal/proto"
)

// SendChat broadcasts a plain chat line.
func (c *Client) SendChat(text string) error {
	return c.sess.Send(proto.Chat(text).Encode())
}

// SendWhisper addresses a private message to one peer. The ledger entry and
// sink notification arrive with the server's echo.
func (c *Client) SendWhisper(to, msg string) error {
	return c.sess.Send(proto.Whisper(to, msg).Encode())
}

// Call initiates a call, advertising this client's audio receive port.
func (c *Client) Call(callee string) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrBusy
	}
	c.state = StateCalling
	c.peer = callee
	c.mu.Unlock()

	if err := c.sess.Send(proto.Calling(callee, c.unicast.Port()).Encode()); err != nil {
		c.transitionIdle()
		return err
	}
	return nil
}

// Accept answers the ringing call: advertise our port, start streaming at
// the caller's advertised address, go Active. An audio failure reverts to
// Idle and unwinds the call instead of proceeding half-initialized.
func (c *Client) Accept() error {
	c.mu.Lock()
	if c.state != StateRinging {
		c.mu.Unlock()
		return ErrNoIncomingCall
	}
	peer, addr, port := c.peer, c.peerAddr, c.peerPort
	c.mu.Unlock()

	if err := c.sess.Send(proto.Accepted(peer, c.unicast.Port()).Encode()); err != nil {
		c.transitionIdle()
		return err
	}

	if err := c.unicast.StartStreaming(addr, port); err != nil {
		c.transitionIdle()
		if sendErr := c.sess.Send(proto.EndCall(peer).Encode()); sendErr != nil {
			c.log.Warn().Err(sendErr).Msg("end-call after audio failure failed")
		}
		return fmt.Errorf("start call audio: %w", err)
	}

	c.mu.Lock()
	c.state = StateActive
	c.mu.Unlock()
	return nil
}

// Decline refuses the ringing call.
func (c *Client) Decline() error {
	c.mu.Lock()
	if c.state != StateRinging {
		c.mu.Unlock()
		return ErrNoIncomingCall
	}
	peer := c.peer
	c.state = StateIdle
	c.peer = ""
	c.mu.Unlock()

	return c.sess.Send(proto.Declined(peer).Encode())
}

// EndCall leaves the active call or cancels an outgoing one that was never
// answered. For the conference that is a silent local leave; for a peer call
// the other side is notified so a still-ringing callee un-rings.
func (c *Client) EndCall() error {
	c.mu.Lock()
	if c.state != StateActive && c.state != StateCalling {
		c.mu.Unlock()
		return nil
	}
	peer := c.peer
	c.state = StateIdle
	c.peer = ""
	if peer == ConferencePeer {
		c.mu.Unlock()
		c.conf.Leave()
		return nil
	}
	c.unicast.StopStreaming()
	c.mu.Unlock()

	return c.sess.Send(proto.EndCall(peer).Encode())
}

// JoinConference enters the multicast conference directly: no handshake, no
// peer negotiation.
func (c *Client) JoinConference() error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrBusy
	}
	c.mu.Unlock()

	if err := c.conf.Join(); err != nil {
		return fmt.Errorf("join conference: %w", err)
	}

	c.mu.Lock()
	c.state = StateActive
	c.peer = ConferencePeer
	c.mu.Unlock()
	return nil
}

// LeaveConference returns to Idle without notifying the group.
func (c *Client) LeaveConference() error {
	return c.EndCall()
}

// SendVoiceNote reads the whole file first, then sends the metadata frame
// and the payload back-to-back with nothing in between.
func (c *Client) SendVoiceNote(path, recipient string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read voice note: %w", err)
	}
	if len(content) == 0 {
		return fmt.Errorf("voice note %s is empty", path)
	}

	frame := proto.VoiceNote(recipient, filepath.Base(path), int64(len(content)))
	if err := c.sess.SendWithPayload(frame.Encode(), content); err != nil {
		return fmt.Errorf("send voice note: %w", err)
	}

	c.log.Info().Str("file", frame.File).Str("to", recipient).Int64("size", frame.Size).Msg("voice note sent")
	return nil
}

// Disconnect tells the server we are leaving and closes the session; the
// dispatcher loop then winds down the audio engines.
func (c *Client) Disconnect() error {
	if err := c.sess.Send(proto.Disconnect().Encode()); err != nil {
		c.log.Warn().Err(err).Msg("disconnect notice failed")
	}
	return c.sess.Close()
}
