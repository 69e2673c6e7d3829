package client

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxlink/voxlink/internal/audio"
	"github.com/voxlink/voxlink/internal/config"
	"github.com/voxlink/voxlink/internal/log"
	"github.com/voxlink/voxlink/internal/server"
	"github.com/voxlink/voxlink/internal/transport"
)

// recordSink captures every engine notification for later assertions.
type recordSink struct {
	mu          sync.Mutex
	messages    []string
	rosters     [][]string
	whispersIn  []string
	whispersOut []string
	prompts     []string
	declined    []string
	unavailable []string
	ended       []string
	notes       []string
	errs        []string
}

func (r *recordSink) Message(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, text)
}

func (r *recordSink) RosterChanged(users []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rosters = append(r.rosters, users)
}

func (r *recordSink) WhisperReceived(from, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.whispersIn = append(r.whispersIn, from+": "+msg)
}

func (r *recordSink) WhisperSent(to, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.whispersOut = append(r.whispersOut, to+": "+msg)
}

func (r *recordSink) CallPrompt(from string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prompts = append(r.prompts, from)
}

func (r *recordSink) CallDeclined(peer string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.declined = append(r.declined, peer)
}

func (r *recordSink) PeerUnavailable(peer string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unavailable = append(r.unavailable, peer)
}

func (r *recordSink) CallEnded(peer string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = append(r.ended, peer)
}

func (r *recordSink) VoiceNoteReceived(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, path)
}

func (r *recordSink) Error(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, msg)
}

func (r *recordSink) has(bucket func(*recordSink) []string, want string) func() bool {
	return func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		for _, got := range bucket(r) {
			if got == want {
				return true
			}
		}
		return false
	}
}

func startBroker(t *testing.T) *server.Server {
	t.Helper()

	cfg := config.DefaultServer()
	cfg.Addr = "127.0.0.1:0"
	cfg.NotesDir = t.TempDir()

	s := server.New(cfg, log.Nop())
	require.NoError(t, s.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }

func goodDevice() audio.Device {
	return audio.NewLoopback(eofReader{}, io.Discard)
}

func newEngine(t *testing.T, s *server.Server, name string, dev audio.Device) (*Client, *recordSink) {
	t.Helper()

	cfg := config.DefaultClient()
	cfg.ServerAddr = s.Addr()
	cfg.ReceivedNotesDir = t.TempDir()

	sink := &recordSink{}
	c := New(cfg, dev, sink, log.Nop())
	require.NoError(t, c.Connect())
	require.NoError(t, c.Join(name))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run()
	}()
	t.Cleanup(func() {
		_ = c.Disconnect()
		<-done
	})
	return c, sink
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 3*time.Second, 10*time.Millisecond)
}

func TestJoinRejectsTakenNameThenRetries(t *testing.T) {
	s := startBroker(t)
	newEngine(t, s, "alice", goodDevice())

	cfg := config.DefaultClient()
	cfg.ServerAddr = s.Addr()
	cfg.ReceivedNotesDir = t.TempDir()
	c := New(cfg, goodDevice(), &recordSink{}, log.Nop())
	require.NoError(t, c.Connect())
	t.Cleanup(func() { _ = c.Disconnect() })

	require.ErrorIs(t, c.Join("alice"), ErrUsernameTaken)
	require.NoError(t, c.Join("bob"))
	assert.Equal(t, "bob", c.Name())
}

func TestRosterAndJoinLeaveEvents(t *testing.T) {
	s := startBroker(t)
	alice, aliceSink := newEngine(t, s, "alice", goodDevice())
	bob, bobSink := newEngine(t, s, "bob", goodDevice())

	eventually(t, aliceSink.has(func(r *recordSink) []string { return r.messages }, "bob joined"))
	eventually(t, func() bool { return len(bob.Roster()) == 1 })
	assert.Equal(t, []string{"alice"}, bob.Roster())
	assert.Equal(t, []string{"bob"}, alice.Roster())

	require.NoError(t, bob.Disconnect())
	eventually(t, aliceSink.has(func(r *recordSink) []string { return r.messages }, "bob left"))
	assert.Empty(t, alice.Roster())
	_ = bobSink
}

func TestWhisperLedger(t *testing.T) {
	s := startBroker(t)
	alice, aliceSink := newEngine(t, s, "alice", goodDevice())
	bob, bobSink := newEngine(t, s, "bob", goodDevice())
	eventually(t, func() bool { return len(bob.Roster()) == 1 })

	require.NoError(t, alice.SendWhisper("bob", "psst, got a minute?"))

	eventually(t, aliceSink.has(func(r *recordSink) []string { return r.whispersOut }, "bob: psst, got a minute?"))
	eventually(t, bobSink.has(func(r *recordSink) []string { return r.whispersIn }, "alice: psst, got a minute?"))

	assert.Equal(t, []string{"You: psst, got a minute?"}, alice.Transcript("bob"))
	assert.Equal(t, []string{"alice: psst, got a minute?"}, bob.Transcript("alice"))
}

func TestWhisperLedgerClearedWhenPeerLeaves(t *testing.T) {
	s := startBroker(t)
	alice, _ := newEngine(t, s, "alice", goodDevice())
	bob, bobSink := newEngine(t, s, "bob", goodDevice())
	eventually(t, func() bool { return len(bob.Roster()) == 1 })

	require.NoError(t, alice.SendWhisper("bob", "hi"))
	eventually(t, func() bool { return len(alice.Transcript("bob")) == 1 })

	require.NoError(t, bob.Disconnect())
	eventually(t, func() bool { return len(alice.Roster()) == 0 })
	assert.Empty(t, alice.Transcript("bob"))
	_ = bobSink
}

func TestCallDeclineLifecycle(t *testing.T) {
	s := startBroker(t)
	alice, aliceSink := newEngine(t, s, "alice", goodDevice())
	bob, bobSink := newEngine(t, s, "bob", goodDevice())
	eventually(t, func() bool { return len(bob.Roster()) == 1 })

	require.NoError(t, alice.Call("bob"))
	state, peer := alice.State()
	assert.Equal(t, StateCalling, state)
	assert.Equal(t, "bob", peer)

	eventually(t, bobSink.has(func(r *recordSink) []string { return r.prompts }, "alice"))
	state, _ = bob.State()
	assert.Equal(t, StateRinging, state)

	require.NoError(t, bob.Decline())
	eventually(t, aliceSink.has(func(r *recordSink) []string { return r.declined }, "bob"))

	state, _ = alice.State()
	assert.Equal(t, StateIdle, state)
	state, _ = bob.State()
	assert.Equal(t, StateIdle, state)
}

func TestCallAcceptThenEnd(t *testing.T) {
	s := startBroker(t)
	alice, aliceSink := newEngine(t, s, "alice", goodDevice())
	bob, bobSink := newEngine(t, s, "bob", goodDevice())
	eventually(t, func() bool { return len(bob.Roster()) == 1 })

	require.NoError(t, alice.Call("bob"))
	eventually(t, bobSink.has(func(r *recordSink) []string { return r.prompts }, "alice"))

	require.NoError(t, bob.Accept())
	eventually(t, func() bool {
		state, _ := bob.State()
		return state == StateActive
	})
	eventually(t, func() bool {
		state, _ := alice.State()
		return state == StateActive
	})
	eventually(t, aliceSink.has(func(r *recordSink) []string { return r.messages }, "bob accepted your call"))

	require.NoError(t, alice.EndCall())
	eventually(t, bobSink.has(func(r *recordSink) []string { return r.ended }, "alice"))
	state, _ := bob.State()
	assert.Equal(t, StateIdle, state)
	state, _ = alice.State()
	assert.Equal(t, StateIdle, state)
}

func TestCallerCancelsUnansweredCall(t *testing.T) {
	s := startBroker(t)
	alice, _ := newEngine(t, s, "alice", goodDevice())
	bob, bobSink := newEngine(t, s, "bob", goodDevice())
	eventually(t, func() bool { return len(bob.Roster()) == 1 })

	require.NoError(t, alice.Call("bob"))
	eventually(t, bobSink.has(func(r *recordSink) []string { return r.prompts }, "alice"))

	require.NoError(t, alice.EndCall())
	state, _ := alice.State()
	assert.Equal(t, StateIdle, state)

	// The still-ringing callee un-rings.
	eventually(t, bobSink.has(func(r *recordSink) []string { return r.ended }, "alice"))
	state, _ = bob.State()
	assert.Equal(t, StateIdle, state)

	// The caller is free to dial again.
	require.NoError(t, alice.Call("bob"))
	state, peer := alice.State()
	assert.Equal(t, StateCalling, state)
	assert.Equal(t, "bob", peer)
}

func TestCallerResetWhenCalleeDisconnects(t *testing.T) {
	s := startBroker(t)
	alice, aliceSink := newEngine(t, s, "alice", goodDevice())
	bob, bobSink := newEngine(t, s, "bob", goodDevice())
	carol, _ := newEngine(t, s, "carol", goodDevice())
	eventually(t, func() bool { return len(alice.Roster()) == 2 })
	eventually(t, func() bool { return len(carol.Roster()) == 2 })

	require.NoError(t, alice.Call("bob"))
	eventually(t, bobSink.has(func(r *recordSink) []string { return r.prompts }, "alice"))

	require.NoError(t, bob.Disconnect())
	eventually(t, aliceSink.has(func(r *recordSink) []string { return r.ended }, "bob"))
	eventually(t, func() bool {
		state, _ := alice.State()
		return state == StateIdle
	})

	// A departed callee must not wedge the caller.
	require.NoError(t, alice.Call("carol"))
	state, peer := alice.State()
	assert.Equal(t, StateCalling, state)
	assert.Equal(t, "carol", peer)
}

func TestStaleCallSignalsIgnoredWhileActive(t *testing.T) {
	s := startBroker(t)
	alice, aliceSink := newEngine(t, s, "alice", goodDevice())
	bob, bobSink := newEngine(t, s, "bob", goodDevice())

	// A third party speaking the raw protocol.
	mallory, err := transport.Dial(s.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { mallory.Close() })
	require.NoError(t, mallory.Send("mallory"))
	line, err := mallory.Receive()
	require.NoError(t, err)
	require.Equal(t, "##USERNAMEOK", line)

	eventually(t, func() bool { return len(alice.Roster()) == 2 })

	require.NoError(t, alice.Call("bob"))
	eventually(t, bobSink.has(func(r *recordSink) []string { return r.prompts }, "alice"))
	require.NoError(t, bob.Accept())
	eventually(t, func() bool {
		state, _ := alice.State()
		return state == StateActive
	})

	// Signals for a call that does not involve mallory must not touch it.
	require.NoError(t, mallory.Send("##DECLINED,alice"))
	require.NoError(t, mallory.Send("##UNAVAILABLE,alice"))
	require.NoError(t, mallory.Send("##ENDCALL,alice"))
	// The whisper is relayed after the frames above on the same ordered
	// stream, so its arrival proves they were already dispatched.
	require.NoError(t, mallory.Send("##WHISPER,alice,still there?"))
	eventually(t, aliceSink.has(func(r *recordSink) []string { return r.whispersIn }, "mallory: still there?"))

	state, peer := alice.State()
	assert.Equal(t, StateActive, state)
	assert.Equal(t, "bob", peer)
	assert.False(t, aliceSink.has(func(r *recordSink) []string { return r.declined }, "mallory")())
	assert.False(t, aliceSink.has(func(r *recordSink) []string { return r.unavailable }, "mallory")())
	assert.False(t, aliceSink.has(func(r *recordSink) []string { return r.ended }, "mallory")())
}

func TestBusyCalleeAnswersUnavailableWithoutRinging(t *testing.T) {
	s := startBroker(t)
	alice, _ := newEngine(t, s, "alice", goodDevice())
	bob, bobSink := newEngine(t, s, "bob", goodDevice())
	carol, carolSink := newEngine(t, s, "carol", goodDevice())
	eventually(t, func() bool { return len(carol.Roster()) == 2 })
	eventually(t, func() bool { return len(alice.Roster()) == 2 })

	require.NoError(t, alice.Call("bob"))
	eventually(t, bobSink.has(func(r *recordSink) []string { return r.prompts }, "alice"))
	require.NoError(t, bob.Accept())
	eventually(t, func() bool {
		state, _ := alice.State()
		return state == StateActive
	})

	require.NoError(t, carol.Call("alice"))
	eventually(t, carolSink.has(func(r *recordSink) []string { return r.unavailable }, "alice"))

	state, _ := carol.State()
	assert.Equal(t, StateIdle, state)
	state, peer := alice.State()
	assert.Equal(t, StateActive, state)
	assert.Equal(t, "bob", peer)
}

func TestAcceptWithoutIncomingCall(t *testing.T) {
	s := startBroker(t)
	alice, _ := newEngine(t, s, "alice", goodDevice())

	assert.ErrorIs(t, alice.Accept(), ErrNoIncomingCall)
	assert.ErrorIs(t, alice.Decline(), ErrNoIncomingCall)
}

func TestAcceptRevertsOnCaptureFailure(t *testing.T) {
	s := startBroker(t)
	alice, aliceSink := newEngine(t, s, "alice", goodDevice())
	// Bob's playback works but the capture device is gone.
	bob, bobSink := newEngine(t, s, "bob", audio.NewLoopback(nil, io.Discard))
	eventually(t, func() bool { return len(bob.Roster()) == 1 })

	require.NoError(t, alice.Call("bob"))
	eventually(t, bobSink.has(func(r *recordSink) []string { return r.prompts }, "alice"))

	err := bob.Accept()
	require.ErrorIs(t, err, audio.ErrDeviceUnavailable)

	state, _ := bob.State()
	assert.Equal(t, StateIdle, state)

	// Alice saw the accept, then the unwind.
	eventually(t, aliceSink.has(func(r *recordSink) []string { return r.ended }, "bob"))
	eventually(t, func() bool {
		state, _ := alice.State()
		return state == StateIdle
	})
}

func TestVoiceNoteEndToEnd(t *testing.T) {
	s := startBroker(t)
	alice, _ := newEngine(t, s, "alice", goodDevice())
	bob, bobSink := newEngine(t, s, "bob", goodDevice())
	eventually(t, func() bool { return len(bob.Roster()) == 1 })

	content := bytes.Repeat([]byte{0x42}, 12_345)
	src := filepath.Join(t.TempDir(), "greeting.wav")
	require.NoError(t, os.WriteFile(src, content, 0o644))

	require.NoError(t, alice.SendVoiceNote(src, "bob"))

	eventually(t, func() bool {
		bobSink.mu.Lock()
		defer bobSink.mu.Unlock()
		return len(bobSink.notes) == 1
	})
	bobSink.mu.Lock()
	path := bobSink.notes[0]
	bobSink.mu.Unlock()

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestSendVoiceNoteRejectsEmptyFile(t *testing.T) {
	s := startBroker(t)
	alice, _ := newEngine(t, s, "alice", goodDevice())

	src := filepath.Join(t.TempDir(), "empty.wav")
	require.NoError(t, os.WriteFile(src, nil, 0o644))
	assert.Error(t, alice.SendVoiceNote(src, "bob"))
}
