package server

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/voxlink/voxlink/internal/proto"
	"github.com/voxlink/voxlink/internal/transport"
)

// TransferRecord scopes one voice-note transfer for logging and stats.
// Transfers are transient; only the file artifact outlives them.
type TransferRecord struct {
	ID        string
	Sender    string
	Recipient string
	Filename  string
	Size      int64
}

func newTransferRecord(sender, recipient, filename string, size int64) TransferRecord {
	return TransferRecord{
		ID:        uuid.NewString(),
		Sender:    sender,
		Recipient: recipient,
		Filename:  filename,
		Size:      size,
	}
}

// NoteStore receives voice notes into a directory and replays them to their
// recipients: store-and-forward, never a streaming pass-through.
type NoteStore struct {
	dir string
	log *zerolog.Logger

	forwarded      atomic.Int64
	bytesForwarded atomic.Int64
}

// NewNoteStore builds a store rooted at dir.
func NewNoteStore(dir string, logger *zerolog.Logger) *NoteStore {
	return &NoteStore{dir: dir, log: logger}
}

// Receive reads the declared payload from the sender's session into the
// store. On a short stream it returns the partial file's path along with
// transport.ErrTransferIncomplete; the partial file is retained.
func (n *NoteStore) Receive(sess *transport.Session, rec TransferRecord) (string, error) {
	// Base name only; the sender does not choose directories here.
	path := filepath.Join(n.dir, filepath.Base(rec.Filename))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create notes dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create note file: %w", err)
	}

	got, err := sess.CopyRawTo(f, rec.Size)
	if closeErr := f.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		if errors.Is(err, transport.ErrTransferIncomplete) {
			n.log.Warn().
				Str("transfer_id", rec.ID).
				Str("file", rec.Filename).
				Int64("expected", rec.Size).
				Int64("got", got).
				Msg("voice note incomplete, partial file kept")
		}
		return path, err
	}

	n.log.Info().
		Str("transfer_id", rec.ID).
		Str("from", rec.Sender).
		Str("to", rec.Recipient).
		Str("file", rec.Filename).
		Int64("size", rec.Size).
		Msg("voice note received")
	return path, nil
}

// Forward re-reads an assembled note and replays metadata plus payload to
// the recipient's session in one uninterruptible write.
func (n *NoteStore) Forward(sess *transport.Session, rec TransferRecord, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reread note: %w", err)
	}

	frame := proto.ReceiveVoiceNote(rec.Recipient, filepath.Base(rec.Filename), int64(len(content)))
	if err := sess.SendWithPayload(frame.Encode(), content); err != nil {
		return fmt.Errorf("forward note: %w", err)
	}

	n.forwarded.Add(1)
	n.bytesForwarded.Add(int64(len(content)))
	n.log.Info().
		Str("transfer_id", rec.ID).
		Str("to", rec.Recipient).
		Str("file", rec.Filename).
		Msg("voice note forwarded")
	return nil
}

// Forwarded returns how many notes have been relayed since startup.
func (n *NoteStore) Forwarded() int64 { return n.forwarded.Load() }

// BytesForwarded returns the total payload bytes relayed since startup.
func (n *NoteStore) BytesForwarded() int64 { return n.bytesForwarded.Load() }
