package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxlink/voxlink/internal/config"
	"github.com/voxlink/voxlink/internal/log"
)

func adminRouter(s *Server) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/roster", s.handleRoster)
	router.GET("/stats", s.handleStats)
	return router
}

func TestAdminRoster(t *testing.T) {
	cfg := config.DefaultServer()
	cfg.NotesDir = t.TempDir()
	s := New(cfg, log.Nop())

	for _, name := range []string{"alice", "bob"} {
		sess, _ := pipeSession(t)
		mustRegister(t, s.Registry(), name, sess)
	}

	w := httptest.NewRecorder()
	adminRouter(s).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/roster", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Users []string `json:"users"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, []string{"alice", "bob"}, body.Users)
}

func TestAdminStats(t *testing.T) {
	cfg := config.DefaultServer()
	cfg.NotesDir = t.TempDir()
	s := New(cfg, log.Nop())

	sess, _ := pipeSession(t)
	mustRegister(t, s.Registry(), "alice", sess)

	w := httptest.NewRecorder()
	adminRouter(s).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Sessions       int   `json:"sessions"`
		NotesForwarded int64 `json:"notes_forwarded"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Sessions)
	assert.Zero(t, body.NotesForwarded)
}
