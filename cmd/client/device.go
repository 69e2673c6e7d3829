package main

import (
	"io"
	"time"

	"github.com/voxlink/voxlink/internal/audio"
)

// silenceDevice stands in for real audio hardware: the capture side produces
// silent PCM frames at roughly real-time pace and playback is discarded.
// Hooking actual capture/playback in means swapping this Device out.
type silenceDevice struct{}

func (silenceDevice) Capture() (io.ReadCloser, error) {
	return io.NopCloser(silentMic{}), nil
}

func (silenceDevice) Playback() (io.WriteCloser, error) {
	return discardSpeaker{}, nil
}

type silentMic struct{}

func (silentMic) Read(p []byte) (int, error) {
	// One FrameSize chunk of 16-bit mono at 48 kHz covers ~42ms of audio.
	time.Sleep(time.Duration(audio.FrameSize) * time.Second / (audio.SampleRate * audio.BitDepth / 8))
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

type discardSpeaker struct{}

func (discardSpeaker) Write(p []byte) (int, error) { return len(p), nil }
func (discardSpeaker) Close() error                { return nil }
