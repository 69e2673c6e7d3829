package client

// EventSink is the boundary to whatever frontend presents the session: a
// terminal, a GUI, or a test recorder. Implementations must not block; the
// engine calls them from its dispatcher goroutine. The accept/decline
// decision for an incoming call is not a return value of CallPrompt; the
// frontend answers later via Client.Accept or Client.Decline.
type EventSink interface {
	// Message is a line for the shared chat view: broadcast chat, join/leave
	// notices, call status text.
	Message(text string)
	// RosterChanged delivers the current roster in join order.
	RosterChanged(users []string)
	// WhisperReceived and WhisperSent mirror the private-message ledger.
	WhisperReceived(from, msg string)
	WhisperSent(to, msg string)
	// CallPrompt announces an incoming call awaiting Accept or Decline.
	CallPrompt(from string)
	// CallDeclined, PeerUnavailable and CallEnded report signaling outcomes.
	CallDeclined(peer string)
	PeerUnavailable(peer string)
	CallEnded(peer string)
	// VoiceNoteReceived reports a fully assembled note on local disk.
	VoiceNoteReceived(path string)
	// Error reports a recoverable local failure worth surfacing.
	Error(msg string)
}
