// Package audio implements the two live-audio transports: per-call unicast
// UDP and the shared multicast conference group. Audio travels as raw PCM,
// one fixed-size frame per datagram, with no codec work.
package audio

// Fixed sample format shared by both transports: uncompressed linear PCM.
const (
	SampleRate = 48000
	BitDepth   = 16
	Channels   = 1

	// FrameSize is the payload size of every audio datagram.
	FrameSize = 4096
)

const (
	// DefaultUnicastPort is where receive-socket probing starts.
	DefaultUnicastPort = 4000

	// maxProbeAttempts bounds sequential port probing before giving up.
	maxProbeAttempts = 128

	// ConferenceGroup and ConferencePort identify the fixed multicast
	// conference. Every participant sends and receives on the same group.
	ConferenceGroup = "239.1.2.3"
	ConferencePort  = 5000
)
