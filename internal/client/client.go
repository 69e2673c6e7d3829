// Package client implements the connection engine behind a chat frontend:
// the dispatcher over the server session, the whisper ledger, the call
// state machine, voice-note transfer, and audio engine lifecycle.
package client

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/voxlink/voxlink/internal/audio"
	"github.com/voxlink/voxlink/internal/config"
	"github.com/voxlink/voxlink/internal/proto"
	"github.com/voxlink/voxlink/internal/transport"
)

var (
	// ErrUsernameTaken is returned by Join for a name already online; the
	// caller may retry with a different one.
	ErrUsernameTaken = errors.New("username taken")

	// ErrBusy reports a call attempt while already calling, ringing or in a
	// call.
	ErrBusy = errors.New("already in a call or conference")

	// ErrNoIncomingCall reports Accept or Decline without a ringing call.
	ErrNoIncomingCall = errors.New("no incoming call")
)

// Client is one user's engine. The dispatcher goroutine (Run) owns the
// session reader; all state shared with action methods sits behind mu.
type Client struct {
	cfg  config.Client
	dev  audio.Device
	sink EventSink
	log  *zerolog.Logger

	sess    *transport.Session
	unicast *audio.Unicast
	conf    *audio.Conference

	mu       sync.Mutex
	name     string
	state    CallState
	peer     string
	peerPort int
	peerAddr string
	roster   []string
	whispers map[string][]string
}

// New builds an engine. Connect and Join must run before Run.
func New(cfg config.Client, dev audio.Device, sink EventSink, logger *zerolog.Logger) *Client {
	return &Client{
		cfg:      cfg,
		dev:      dev,
		sink:     sink,
		log:      logger,
		whispers: make(map[string][]string),
	}
}

// Connect dials the server and brings up the audio receive socket, which
// listens from the start so the first datagram of a call is not lost.
func (c *Client) Connect() error {
	sess, err := transport.Dial(c.cfg.ServerAddr)
	if err != nil {
		return err
	}
	c.sess = sess

	c.unicast = audio.NewUnicast(c.dev, c.cfg.AudioPort, c.log)
	if err := c.unicast.Listen(); err != nil {
		sess.Close()
		return fmt.Errorf("audio receive: %w", err)
	}
	c.conf = audio.NewConference(c.dev, c.log)
	return nil
}

// Join negotiates the username synchronously. On ErrUsernameTaken the
// connection stays open and Join may be called again with a new name.
func (c *Client) Join(name string) error {
	if err := c.sess.Send(name); err != nil {
		return err
	}
	line, err := c.sess.Receive()
	if err != nil {
		return err
	}
	frame, err := proto.Parse(line)
	if err != nil {
		return err
	}
	switch frame.Kind {
	case proto.KindUsernameOK:
		c.mu.Lock()
		c.name = name
		c.mu.Unlock()
		return nil
	case proto.KindUsernameTaken:
		return ErrUsernameTaken
	default:
		return fmt.Errorf("unexpected negotiation reply %q", line)
	}
}

// Run is the dispatcher loop. It blocks until the server goes away or
// Disconnect is called, then tears down the audio engines.
func (c *Client) Run() error {
	defer func() {
		c.conf.Leave()
		c.unicast.Close()
	}()

	for {
		line, err := c.sess.Receive()
		if err != nil {
			if errors.Is(err, transport.ErrSessionClosed) {
				return nil
			}
			return err
		}

		frame, err := proto.Parse(line)
		if err != nil {
			c.log.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}
		if frame.Kind == proto.KindDisconnect {
			return nil
		}
		c.dispatch(frame)
	}
}

func (c *Client) dispatch(frame proto.Frame) {
	switch frame.Kind {
	case proto.KindChat:
		c.sink.Message(frame.Text)

	case proto.KindOnlineUser:
		c.addToRoster(frame.Name, false)
	case proto.KindClientJoin:
		c.addToRoster(frame.Name, true)
	case proto.KindClientLeft:
		c.removeFromRoster(frame.Name)

	case proto.KindWhisperFrom:
		c.appendWhisper(frame.Name, frame.Name+": "+frame.Body)
		c.sink.WhisperReceived(frame.Name, frame.Body)
	case proto.KindWhisperTo:
		c.appendWhisper(frame.Name, "You: "+frame.Body)
		c.sink.WhisperSent(frame.Name, frame.Body)

	case proto.KindCalling:
		c.handleIncomingCall(frame)
	case proto.KindAccepted:
		c.handleAccepted(frame)
	case proto.KindDeclined:
		if c.clearOutgoingCall(frame.Name) {
			c.sink.CallDeclined(frame.Name)
		}
	case proto.KindUnavailable:
		if c.clearOutgoingCall(frame.Name) {
			c.sink.PeerUnavailable(frame.Name)
		}
	case proto.KindEndCall:
		c.handleEndCall(frame)

	case proto.KindReceiveVoiceNote:
		c.receiveVoiceNote(frame)

	default:
		c.log.Warn().Int("kind", int(frame.Kind)).Msg("dropping unexpected frame")
	}
}

// handleIncomingCall applies the tie-break: any non-idle client answers
// UNAVAILABLE without ever entering Ringing.
func (c *Client) handleIncomingCall(frame proto.Frame) {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		if err := c.sess.Send(proto.Unavailable(frame.Name).Encode()); err != nil {
			c.log.Warn().Err(err).Msg("unavailable reply failed")
		}
		return
	}
	c.state = StateRinging
	c.peer = frame.Name
	c.peerPort = frame.Port
	c.peerAddr = frame.Addr
	c.mu.Unlock()

	c.sink.CallPrompt(frame.Name)
}

// handleAccepted is the caller-side transition to Active: the callee's
// advertised port and server-observed address arrive here.
func (c *Client) handleAccepted(frame proto.Frame) {
	c.mu.Lock()
	if c.state != StateCalling || c.peer != frame.Name {
		c.mu.Unlock()
		c.log.Warn().Str("peer", frame.Name).Msg("unexpected accept, ignoring")
		return
	}
	c.peerPort = frame.Port
	c.peerAddr = frame.Addr
	err := c.unicast.StartStreaming(frame.Addr, frame.Port)
	if err != nil {
		c.state = StateIdle
		c.peer = ""
	} else {
		c.state = StateActive
	}
	c.mu.Unlock()

	if err != nil {
		// Revert rather than run a half-initialized call.
		if sendErr := c.sess.Send(proto.EndCall(frame.Name).Encode()); sendErr != nil {
			c.log.Warn().Err(sendErr).Msg("end-call after audio failure failed")
		}
		c.sink.Error(fmt.Sprintf("call with %s aborted: %v", frame.Name, err))
		return
	}
	c.sink.Message(frame.Name + " accepted your call")
}

func (c *Client) transitionIdle() {
	c.mu.Lock()
	c.state = StateIdle
	c.peer = ""
	c.mu.Unlock()
}

// clearOutgoingCall resets state only when the answer matches the call we
// are actually placing. A stale or forged decline must not touch an
// unrelated call.
func (c *Client) clearOutgoingCall(peer string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateCalling || c.peer != peer {
		c.log.Warn().Str("peer", peer).Msg("unexpected call answer, ignoring")
		return false
	}
	c.state = StateIdle
	c.peer = ""
	return true
}

// handleEndCall tears down the call with the named peer. ENDCALL from anyone
// else is ignored; the conference peer value never matches a username, so
// conference loops cannot be killed by a stray frame.
func (c *Client) handleEndCall(frame proto.Frame) {
	c.mu.Lock()
	if c.state == StateIdle || c.peer != frame.Name {
		c.mu.Unlock()
		c.log.Warn().Str("peer", frame.Name).Msg("unexpected end-call, ignoring")
		return
	}
	c.unicast.StopStreaming()
	c.state = StateIdle
	c.peer = ""
	c.mu.Unlock()

	c.sink.CallEnded(frame.Name)
}

func (c *Client) addToRoster(name string, announce bool) {
	c.mu.Lock()
	for _, u := range c.roster {
		if u == name {
			c.mu.Unlock()
			return
		}
	}
	c.roster = append(c.roster, name)
	c.whispers[name] = nil
	users := append([]string(nil), c.roster...)
	c.mu.Unlock()

	if announce {
		c.sink.Message(name + " joined")
	}
	c.sink.RosterChanged(users)
}

// removeFromRoster drops the user and, when they were the current call
// peer, unwinds the call: no ANSWER or ENDCALL is coming from a session
// that no longer exists.
func (c *Client) removeFromRoster(name string) {
	c.mu.Lock()
	for i, u := range c.roster {
		if u == name {
			c.roster = append(c.roster[:i], c.roster[i+1:]...)
			break
		}
	}
	delete(c.whispers, name)
	users := append([]string(nil), c.roster...)
	endedCall := false
	if c.state != StateIdle && c.peer == name {
		c.unicast.StopStreaming()
		c.state = StateIdle
		c.peer = ""
		endedCall = true
	}
	c.mu.Unlock()

	c.sink.Message(name + " left")
	c.sink.RosterChanged(users)
	if endedCall {
		c.sink.CallEnded(name)
	}
}

func (c *Client) appendWhisper(peer, line string) {
	c.mu.Lock()
	c.whispers[peer] = append(c.whispers[peer], line)
	c.mu.Unlock()
}

// receiveVoiceNote collects the raw payload that follows the metadata frame
// on the same stream. Runs on the dispatcher goroutine, which owns the reader.
func (c *Client) receiveVoiceNote(frame proto.Frame) {
	path := filepath.Join(c.cfg.ReceivedNotesDir, filepath.Base(frame.File))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		c.sink.Error(fmt.Sprintf("voice note %s: %v", frame.File, err))
		return
	}
	f, err := os.Create(path)
	if err != nil {
		c.sink.Error(fmt.Sprintf("voice note %s: %v", frame.File, err))
		return
	}

	got, err := c.sess.CopyRawTo(f, frame.Size)
	if closeErr := f.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		if errors.Is(err, transport.ErrTransferIncomplete) {
			c.sink.Error(fmt.Sprintf("voice note %s incomplete: %d of %d bytes", frame.File, got, frame.Size))
		} else {
			c.sink.Error(fmt.Sprintf("voice note %s: %v", frame.File, err))
		}
		return
	}

	c.log.Info().Str("file", frame.File).Int64("size", frame.Size).Msg("voice note received")
	c.sink.VoiceNoteReceived(path)
}

// State returns the current call state and peer.
func (c *Client) State() (CallState, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.peer
}

// Name returns the negotiated username.
func (c *Client) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

// Roster returns the roster in join order.
func (c *Client) Roster() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.roster...)
}

// Transcript returns the whisper ledger for one peer.
func (c *Client) Transcript(peer string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.whispers[peer]...)
}
