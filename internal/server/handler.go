package server

import (
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/voxlink/voxlink/internal/proto"
	"github.com/voxlink/voxlink/internal/transport"
)

// handler runs the full lifecycle of one client connection: username
// negotiation, the dispatch loop, and the exactly-once leave broadcast.
type handler struct {
	reg   *Registry
	notes *NoteStore
	log   *zerolog.Logger
}

func newHandler(reg *Registry, notes *NoteStore, logger *zerolog.Logger) *handler {
	return &handler{reg: reg, notes: notes, log: logger}
}

// handle owns the session until the client goes away. Every failure is local
// to this connection.
func (h *handler) handle(sess *transport.Session) {
	defer sess.Close()

	name, err := h.negotiate(sess)
	if err != nil {
		if !errors.Is(err, transport.ErrSessionClosed) {
			h.log.Warn().Err(err).Msg("username negotiation failed")
		}
		return
	}

	logger := h.log.With().Str("user", name).Logger()
	logger.Info().Msg("client connected")

	// The leave broadcast must fire exactly once, whether the client sent an
	// explicit disconnect, the read loop failed, or both.
	var leaveOnce sync.Once
	leave := func() {
		leaveOnce.Do(func() {
			if h.reg.Unregister(name) {
				h.reg.Broadcast(proto.ClientLeft(name).Encode(), name)
			}
			logger.Info().Msg("client disconnected")
		})
	}
	defer leave()

	for {
		line, err := sess.Receive()
		if err != nil {
			return
		}

		frame, err := proto.Parse(line)
		if err != nil {
			logger.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}

		switch frame.Kind {
		case proto.KindDisconnect:
			return
		case proto.KindChat:
			h.broadcastChat(sess, name, frame.Text, &logger)
		case proto.KindWhisper:
			h.relayWhisper(sess, name, frame, &logger)
		case proto.KindCalling:
			relayed := proto.CallingRelay(name, frame.Port, sess.RemoteAddr())
			h.relayTo(frame.Name, relayed, &logger)
			logger.Info().Str("callee", frame.Name).Msg("call initiated")
		case proto.KindAccepted:
			relayed := proto.AcceptedRelay(name, frame.Port, sess.RemoteAddr())
			h.relayTo(frame.Name, relayed, &logger)
			logger.Info().Str("caller", frame.Name).Msg("call accepted")
		case proto.KindDeclined:
			h.relayTo(frame.Name, proto.Declined(name), &logger)
		case proto.KindUnavailable:
			h.relayTo(frame.Name, proto.Unavailable(name), &logger)
		case proto.KindEndCall:
			h.relayTo(frame.Name, proto.EndCall(name), &logger)
		case proto.KindVoiceNote:
			h.handleVoiceNote(sess, name, frame, &logger)
		default:
			// Server-to-client frames arriving inbound are protocol misuse.
			logger.Warn().Str("line", line).Msg("dropping unexpected frame")
		}
	}
}

// negotiate reads username requests until a free one arrives, then inserts
// the client, replays the roster to it, and announces the join, in that
// order, before any further command is accepted.
func (h *handler) negotiate(sess *transport.Session) (string, error) {
	for {
		name, err := sess.Receive()
		if err != nil {
			return "", err
		}
		name = strings.TrimSpace(name)
		if name == "" || strings.HasPrefix(name, "##") {
			if err := sess.Send(proto.UsernameTaken().Encode()); err != nil {
				return "", err
			}
			continue
		}

		online, err := h.reg.Register(name, sess)
		if err != nil {
			if err := sess.Send(proto.UsernameTaken().Encode()); err != nil {
				return "", err
			}
			continue
		}

		if err := sess.Send(proto.UsernameOK().Encode()); err != nil {
			h.reg.Unregister(name)
			return "", err
		}
		for _, user := range online {
			if err := sess.Send(proto.OnlineUser(user).Encode()); err != nil {
				h.reg.Unregister(name)
				return "", err
			}
		}
		h.reg.Broadcast(proto.ClientJoin(name).Encode(), name)
		return name, nil
	}
}

// broadcastChat echoes the line back to its sender and fans it out to
// everyone else.
func (h *handler) broadcastChat(sess *transport.Session, name, text string, logger *zerolog.Logger) {
	if err := sess.Send("You: " + text); err != nil {
		logger.Warn().Err(err).Msg("chat echo failed")
	}
	h.reg.Broadcast(name+": "+text, name)
}

// relayWhisper echoes to the sender and delivers to the target; no third
// session ever sees the message.
func (h *handler) relayWhisper(sess *transport.Session, name string, frame proto.Frame, logger *zerolog.Logger) {
	if err := sess.Send(proto.WhisperTo(frame.Name, frame.Body).Encode()); err != nil {
		logger.Warn().Err(err).Msg("whisper echo failed")
	}
	target, ok := h.reg.Find(frame.Name)
	if !ok {
		logger.Warn().Str("to", frame.Name).Msg("whisper target not online")
		return
	}
	if err := target.Send(proto.WhisperFrom(name, frame.Body).Encode()); err != nil {
		logger.Warn().Err(err).Str("to", frame.Name).Msg("whisper delivery failed")
	}
}

// relayTo forwards a frame to one named peer, dropping it with a log line if
// the peer is not online.
func (h *handler) relayTo(peer string, frame proto.Frame, logger *zerolog.Logger) {
	target, ok := h.reg.Find(peer)
	if !ok {
		logger.Warn().Str("peer", peer).Msg("relay target not online")
		return
	}
	if err := target.Send(frame.Encode()); err != nil {
		logger.Warn().Err(err).Str("peer", peer).Msg("relay failed")
	}
}

// handleVoiceNote runs the store-and-forward sequence: collect the payload
// from the sender, then replay the assembled file to the recipient.
func (h *handler) handleVoiceNote(sess *transport.Session, name string, frame proto.Frame, logger *zerolog.Logger) {
	rec := newTransferRecord(name, frame.Name, frame.File, frame.Size)

	path, err := h.notes.Receive(sess, rec)
	if err != nil {
		if !errors.Is(err, transport.ErrTransferIncomplete) {
			logger.Warn().Err(err).Str("file", frame.File).Msg("voice note receive failed")
		}
		return
	}

	target, ok := h.reg.Find(frame.Name)
	if !ok {
		logger.Warn().Str("to", frame.Name).Msg("voice note recipient not online")
		return
	}
	if err := h.notes.Forward(target, rec, path); err != nil {
		logger.Warn().Err(err).Str("to", frame.Name).Msg("voice note forward failed")
	}
}
