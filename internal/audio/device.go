package audio

import (
	"errors"
	"io"
	"sync"
)

// ErrDeviceUnavailable reports that the local capture or playback endpoint
// could not be opened. The transport that needed it fails to start and the
// caller reverts its call state.
var ErrDeviceUnavailable = errors.New("audio device unavailable")

// Device is the boundary to the local audio hardware. Capture hands out the
// microphone as a byte source, Playback the speaker as a byte sink; both are
// opaque streams of the fixed PCM format.
type Device interface {
	Capture() (io.ReadCloser, error)
	Playback() (io.WriteCloser, error)
}

// Loopback is a Device backed by an in-memory reader and writer. Tests feed
// the "microphone" from a buffer and collect "speaker" output the same way.
type Loopback struct {
	mic io.Reader

	mu  sync.Mutex
	spk io.Writer
}

// NewLoopback builds a loopback device reading capture data from mic and
// writing playback data to spk.
func NewLoopback(mic io.Reader, spk io.Writer) *Loopback {
	return &Loopback{mic: mic, spk: spk}
}

func (l *Loopback) Capture() (io.ReadCloser, error) {
	if l.mic == nil {
		return nil, ErrDeviceUnavailable
	}
	return io.NopCloser(l.mic), nil
}

func (l *Loopback) Playback() (io.WriteCloser, error) {
	if l.spk == nil {
		return nil, ErrDeviceUnavailable
	}
	return nopWriteCloser{l}, nil
}

type nopWriteCloser struct{ l *Loopback }

func (w nopWriteCloser) Write(p []byte) (int, error) {
	w.l.mu.Lock()
	defer w.l.mu.Unlock()
	return w.l.spk.Write(p)
}

func (w nopWriteCloser) Close() error { return nil }
