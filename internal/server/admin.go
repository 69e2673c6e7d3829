package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// serveAdmin exposes a small read-only HTTP surface over the registry and
// the note store: the live roster and forwarding stats.
func (s *Server) serveAdmin(ctx context.Context) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.GET("/roster", s.handleRoster)
	router.GET("/stats", s.handleStats)

	srv := &http.Server{
		Addr:              s.cfg.AdminAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.cfg.AdminAddr).Msg("admin surface listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.log.Warn().Err(err).Msg("admin surface stopped")
	}
}

func (s *Server) handleRoster(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"users": s.reg.Snapshot()})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"sessions":        s.reg.Len(),
		"notes_forwarded": s.notes.Forwarded(),
		"bytes_forwarded": s.notes.BytesForwarded(),
	})
}
