package client

// CallState is the client's position in the call-signaling lifecycle.
// Exactly one state exists per client.
type CallState int

const (
	// StateIdle means no call activity.
	StateIdle CallState = iota
	// StateCalling means an outbound call is waiting for the callee.
	StateCalling
	// StateRinging means an inbound call is waiting for Accept or Decline.
	StateRinging
	// StateActive means audio is flowing, either with one peer or with the
	// conference group.
	StateActive
)

// ConferencePeer is the distinguished peer value for the multicast
// conference: no pairwise signaling, no single peer address.
const ConferencePeer = "conference"

func (s CallState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCalling:
		return "calling"
	case StateRinging:
		return "ringing"
	case StateActive:
		return "active"
	}
	return "unknown"
}
