// Package proto implements the line-oriented wire protocol spoken between
// clients and the broker. Every frame is one newline-terminated line.
// Control frames start with "##"; anything else is plain chat text.
package proto

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformed reports a control line that cannot be parsed: wrong argument
// count or an unparsable numeric field. Callers drop such lines and keep the
// connection alive.
var ErrMalformed = errors.New("malformed frame")

// Kind identifies what a parsed frame means.
type Kind int

const (
	// KindChat is a plain broadcast chat line, no tag.
	KindChat Kind = iota
	// KindUsernameTaken rejects a requested username.
	KindUsernameTaken
	// KindUsernameOK accepts a requested username.
	KindUsernameOK
	// KindOnlineUser replays one roster entry to a newly joined client.
	KindOnlineUser
	// KindClientJoin announces a user joining.
	KindClientJoin
	// KindClientLeft announces a user leaving.
	KindClientLeft
	// KindWhisper carries a private message toward the server.
	KindWhisper
	// KindWhisperFrom delivers a private message to its target.
	KindWhisperFrom
	// KindWhisperTo echoes a private message back to its sender.
	KindWhisperTo
	// KindCalling initiates call signaling. The server relay appends the
	// caller's network-visible address.
	KindCalling
	// KindAccepted answers a call. The server relay appends the callee's
	// network-visible address.
	KindAccepted
	// KindDeclined refuses a call.
	KindDeclined
	// KindUnavailable answers a call request while already in a call.
	KindUnavailable
	// KindEndCall terminates an active call.
	KindEndCall
	// KindVoiceNote announces a voice-note upload; raw payload follows.
	KindVoiceNote
	// KindReceiveVoiceNote announces a voice-note delivery; raw payload follows.
	KindReceiveVoiceNote
	// KindDisconnect is an explicit session shutdown.
	KindDisconnect
)

// Wire tags. The roster tags glue the username directly to the tag with no
// separator; the rest take comma-separated arguments.
const (
	tagUsernameTaken    = "##USERNAMETAKEN"
	tagUsernameOK       = "##USERNAMEOK"
	tagOnlineUser       = "##ONLINEUSER"
	tagClientJoin       = "##CLIENTJOIN"
	tagClientLeft       = "##CLIENTLEFT"
	tagWhisper          = "##WHISPER"
	tagWhisperFrom      = "##WHISPERFROM"
	tagWhisperTo        = "##WHISPERTO"
	tagCalling          = "##CALLING"
	tagAccepted         = "##ACCEPTED"
	tagDeclined         = "##DECLINED"
	tagUnavailable      = "##UNAVAILABLE"
	tagEndCall          = "##ENDCALL"
	tagVoiceNote        = "##VOICENOTE"
	tagReceiveVoiceNote = "##RECEIVEVOICENOTE"
	tagDisconnect       = "##DISCONNECT"
)

// Frame is the parsed form of one wire line. Only the fields relevant to
// Kind are set.
type Frame struct {
	Kind Kind

	// Text is the chat body for KindChat.
	Text string
	// Name is the peer the frame concerns: whisper target or origin, call
	// peer, roster user, or voice-note recipient.
	Name string
	// Body is the whisper message body.
	Body string
	// Port is the advertised audio receive port for call frames.
	Port int
	// Addr is the network-visible peer address the server relay attaches to
	// call frames. Empty on the client-to-server leg.
	Addr string
	// File and Size describe a voice-note payload.
	File string
	Size int64
}

// Parse turns one received line into a Frame. Message bodies keep embedded
// commas: splits are capped at the frame's argument count.
func Parse(line string) (Frame, error) {
	if !strings.HasPrefix(line, "##") {
		return Frame{Kind: KindChat, Text: line}, nil
	}

	switch {
	case line == tagUsernameTaken:
		return Frame{Kind: KindUsernameTaken}, nil
	case line == tagUsernameOK:
		return Frame{Kind: KindUsernameOK}, nil
	case line == tagDisconnect:
		return Frame{Kind: KindDisconnect}, nil
	case strings.HasPrefix(line, tagOnlineUser):
		return nameGlued(KindOnlineUser, line, tagOnlineUser)
	case strings.HasPrefix(line, tagClientJoin):
		return nameGlued(KindClientJoin, line, tagClientJoin)
	case strings.HasPrefix(line, tagClientLeft):
		return nameGlued(KindClientLeft, line, tagClientLeft)
	}

	tag, rest, ok := strings.Cut(line, ",")
	if !ok {
		return Frame{}, fmt.Errorf("%w: %q", ErrMalformed, line)
	}

	switch tag {
	case tagWhisper, tagWhisperFrom, tagWhisperTo:
		name, body, ok := strings.Cut(rest, ",")
		if !ok || name == "" {
			return Frame{}, fmt.Errorf("%w: %s needs name and body", ErrMalformed, tag)
		}
		kind := KindWhisper
		switch tag {
		case tagWhisperFrom:
			kind = KindWhisperFrom
		case tagWhisperTo:
			kind = KindWhisperTo
		}
		return Frame{Kind: kind, Name: name, Body: body}, nil

	case tagCalling, tagAccepted:
		kind := KindCalling
		if tag == tagAccepted {
			kind = KindAccepted
		}
		parts := strings.SplitN(rest, ",", 3)
		if len(parts) < 2 || parts[0] == "" {
			return Frame{}, fmt.Errorf("%w: %s needs peer and port", ErrMalformed, tag)
		}
		port, err := strconv.Atoi(parts[1])
		if err != nil {
			return Frame{}, fmt.Errorf("%w: %s port %q", ErrMalformed, tag, parts[1])
		}
		f := Frame{Kind: kind, Name: parts[0], Port: port}
		if len(parts) == 3 {
			f.Addr = parts[2]
		}
		return f, nil

	case tagDeclined, tagUnavailable, tagEndCall:
		if rest == "" {
			return Frame{}, fmt.Errorf("%w: %s needs a peer", ErrMalformed, tag)
		}
		kind := KindDeclined
		switch tag {
		case tagUnavailable:
			kind = KindUnavailable
		case tagEndCall:
			kind = KindEndCall
		}
		return Frame{Kind: kind, Name: rest}, nil

	case tagVoiceNote, tagReceiveVoiceNote:
		parts := strings.SplitN(rest, ",", 3)
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
			return Frame{}, fmt.Errorf("%w: %s needs recipient, file and size", ErrMalformed, tag)
		}
		size, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil || size < 0 {
			return Frame{}, fmt.Errorf("%w: %s size %q", ErrMalformed, tag, parts[2])
		}
		kind := KindVoiceNote
		if tag == tagReceiveVoiceNote {
			kind = KindReceiveVoiceNote
		}
		return Frame{Kind: kind, Name: parts[0], File: parts[1], Size: size}, nil
	}

	return Frame{}, fmt.Errorf("%w: unknown tag in %q", ErrMalformed, line)
}

func nameGlued(kind Kind, line, tag string) (Frame, error) {
	name := line[len(tag):]
	if name == "" {
		return Frame{}, fmt.Errorf("%w: %s without a name", ErrMalformed, tag)
	}
	return Frame{Kind: kind, Name: name}, nil
}

// Encode renders the frame back to its wire line, without the trailing newline.
func (f Frame) Encode() string {
	switch f.Kind {
	case KindChat:
		return f.Text
	case KindUsernameTaken:
		return tagUsernameTaken
	case KindUsernameOK:
		return tagUsernameOK
	case KindOnlineUser:
		return tagOnlineUser + f.Name
	case KindClientJoin:
		return tagClientJoin + f.Name
	case KindClientLeft:
		return tagClientLeft + f.Name
	case KindWhisper:
		return tagWhisper + "," + f.Name + "," + f.Body
	case KindWhisperFrom:
		return tagWhisperFrom + "," + f.Name + "," + f.Body
	case KindWhisperTo:
		return tagWhisperTo + "," + f.Name + "," + f.Body
	case KindCalling:
		return callLine(tagCalling, f)
	case KindAccepted:
		return callLine(tagAccepted, f)
	case KindDeclined:
		return tagDeclined + "," + f.Name
	case KindUnavailable:
		return tagUnavailable + "," + f.Name
	case KindEndCall:
		return tagEndCall + "," + f.Name
	case KindVoiceNote:
		return noteLine(tagVoiceNote, f)
	case KindReceiveVoiceNote:
		return noteLine(tagReceiveVoiceNote, f)
	case KindDisconnect:
		return tagDisconnect
	}
	return ""
}

func callLine(tag string, f Frame) string {
	line := tag + "," + f.Name + "," + strconv.Itoa(f.Port)
	if f.Addr != "" {
		line += "," + f.Addr
	}
	return line
}

func noteLine(tag string, f Frame) string {
	return tag + "," + f.Name + "," + f.File + "," + strconv.FormatInt(f.Size, 10)
}

// Chat wraps a plain broadcast line.
func Chat(text string) Frame { return Frame{Kind: KindChat, Text: text} }

// UsernameTaken rejects a username request.
func UsernameTaken() Frame { return Frame{Kind: KindUsernameTaken} }

// UsernameOK accepts a username request.
func UsernameOK() Frame { return Frame{Kind: KindUsernameOK} }

// OnlineUser replays one roster entry.
func OnlineUser(name string) Frame { return Frame{Kind: KindOnlineUser, Name: name} }

// ClientJoin announces a join.
func ClientJoin(name string) Frame { return Frame{Kind: KindClientJoin, Name: name} }

// ClientLeft announces a leave.
func ClientLeft(name string) Frame { return Frame{Kind: KindClientLeft, Name: name} }

// Whisper addresses a private message to a peer.
func Whisper(to, msg string) Frame { return Frame{Kind: KindWhisper, Name: to, Body: msg} }

// WhisperFrom delivers a private message from a peer.
func WhisperFrom(from, msg string) Frame { return Frame{Kind: KindWhisperFrom, Name: from, Body: msg} }

// WhisperTo echoes a private message back to its sender.
func WhisperTo(to, msg string) Frame { return Frame{Kind: KindWhisperTo, Name: to, Body: msg} }

// Calling initiates a call toward callee, advertising the caller's receive port.
func Calling(callee string, port int) Frame {
	return Frame{Kind: KindCalling, Name: callee, Port: port}
}

// CallingRelay is the server-side rewrite: caller identity plus caller address.
func CallingRelay(caller string, port int, addr string) Frame {
	return Frame{Kind: KindCalling, Name: caller, Port: port, Addr: addr}
}

// Accepted answers a call, advertising the callee's receive port.
func Accepted(caller string, port int) Frame {
	return Frame{Kind: KindAccepted, Name: caller, Port: port}
}

// AcceptedRelay is the server-side rewrite: callee identity plus callee address.
func AcceptedRelay(callee string, port int, addr string) Frame {
	return Frame{Kind: KindAccepted, Name: callee, Port: port, Addr: addr}
}

// Declined refuses a call from peer.
func Declined(peer string) Frame { return Frame{Kind: KindDeclined, Name: peer} }

// Unavailable rejects a call from peer because a call is already active.
func Unavailable(peer string) Frame { return Frame{Kind: KindUnavailable, Name: peer} }

// EndCall terminates the call with peer.
func EndCall(peer string) Frame { return Frame{Kind: KindEndCall, Name: peer} }

// VoiceNote announces an upload of size bytes for recipient.
func VoiceNote(recipient, file string, size int64) Frame {
	return Frame{Kind: KindVoiceNote, Name: recipient, File: file, Size: size}
}

// ReceiveVoiceNote announces a delivery of size bytes to recipient.
func ReceiveVoiceNote(recipient, file string, size int64) Frame {
	return Frame{Kind: KindReceiveVoiceNote, Name: recipient, File: file, Size: size}
}

// Disconnect is an explicit shutdown notice.
func Disconnect() Frame { return Frame{Kind: KindDisconnect} }
