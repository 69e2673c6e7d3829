package server

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/rs/zerolog"

	"github.com/voxlink/voxlink/internal/config"
	"github.com/voxlink/voxlink/internal/transport"
)

// Server accepts client connections and runs one handler goroutine per
// connection. Shutdown is modeled by closing the listener, which unblocks
// the accept loop; per-connection loops end when their peers go away.
type Server struct {
	cfg   config.Server
	reg   *Registry
	notes *NoteStore
	log   *zerolog.Logger

	lis net.Listener
}

// New builds a server from configuration.
func New(cfg config.Server, logger *zerolog.Logger) *Server {
	return &Server{
		cfg:   cfg,
		reg:   NewRegistry(logger),
		notes: NewNoteStore(cfg.NotesDir, logger),
		log:   logger,
	}
}

// Registry exposes the session table, for the admin surface and tests.
func (s *Server) Registry() *Registry { return s.reg }

// Notes exposes the voice-note store, for the admin surface and tests.
func (s *Server) Notes() *NoteStore { return s.notes }

// Addr returns the bound listen address, valid after Run has started.
func (s *Server) Addr() string {
	if s.lis == nil {
		return s.cfg.Addr
	}
	return s.lis.Addr().String()
}

// Listen binds the TCP listener without accepting yet. Run calls it if the
// caller has not.
func (s *Server) Listen() error {
	if s.lis != nil {
		return nil
	}
	lis, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.lis = lis
	return nil
}

// Run accepts connections until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.log.Info().Str("addr", s.Addr()).Msg("server listening")

	if s.cfg.AdminAddr != "" {
		go s.serveAdmin(ctx)
	}

	go func() {
		<-ctx.Done()
		s.lis.Close()
	}()

	h := newHandler(s.reg, s.notes, s.log)
	for {
		conn, err := s.lis.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.log.Info().Msg("server stopped")
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go h.handle(transport.NewSession(conn))
	}
}
