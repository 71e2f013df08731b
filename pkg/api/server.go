// Package api is the read-only dashboard HTTP surface.
package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/quantfold/perpd/pkg/database"
	"github.com/quantfold/perpd/pkg/journal"
	"github.com/quantfold/perpd/pkg/policy"
)

// ChatHandler processes one chat message and returns the reply.
type ChatHandler interface {
	HandleMessage(ctx context.Context, sessionKey, text string, onProgress func(string)) string
}

// Server serves the read API plus the chat entry point.
type Server struct {
	db      *database.Client
	journal *journal.Service
	policy  *policy.Store
	chat    ChatHandler
	http    *http.Server
	logger  *slog.Logger
}

// NewServer wires the API. journal, policy, and chat may be nil; their
// endpoints then return 503.
func NewServer(port string, db *database.Client, j *journal.Service, ps *policy.Store, ch ChatHandler) *Server {
	if db == nil {
		panic("api.NewServer: database client must not be nil")
	}
	s := &Server{
		db:      db,
		journal: j,
		policy:  ps,
		chat:    ch,
		logger:  slog.Default().With("component", "api"),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	v1 := router.Group("/api/v1")
	v1.GET("/health", s.health)
	v1.GET("/journal", s.journalEntries)
	v1.GET("/policy", s.policyState)
	v1.GET("/jobs", s.jobs)
	v1.GET("/audits", s.audits)
	v1.POST("/chat", s.chatMessage)

	s.http = &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("API server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	status, err := database.Health(c.Request.Context(), s.db.DB())
	code := http.StatusOK
	if err != nil {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

func (s *Server) journalEntries(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal not configured"})
		return
	}
	entries, err := s.journal.Recent(c.Request.Context(), limitParam(c, 50))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (s *Server) policyState(c *gin.Context) {
	if s.policy == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "policy store not configured"})
		return
	}
	st, err := s.policy.Get(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) audits(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal not configured"})
		return
	}
	audits, err := s.journal.RecentAudits(c.Request.Context(), limitParam(c, 20))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"audits": audits})
}

// jobRow mirrors one scheduler_jobs row for the dashboard.
type jobRow struct {
	Name       string     `json:"name"`
	NextRunAt  time.Time  `json:"next_run_at"`
	LeaseOwner *string    `json:"lease_owner,omitempty"`
	LeaseUntil *time.Time `json:"lease_until,omitempty"`
}

func (s *Server) jobs(c *gin.Context) {
	rows, err := s.db.DB().QueryContext(c.Request.Context(),
		`SELECT name, next_run_at, lease_owner, lease_until FROM scheduler_jobs ORDER BY next_run_at`)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer func() { _ = rows.Close() }()

	var jobs []jobRow
	for rows.Next() {
		var j jobRow
		var owner sql.NullString
		var until sql.NullTime
		if err := rows.Scan(&j.Name, &j.NextRunAt, &owner, &until); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if owner.Valid {
			j.LeaseOwner = &owner.String
		}
		if until.Valid {
			j.LeaseUntil = &until.Time
		}
		jobs = append(jobs, j)
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

// chatRequest is the POST /chat body.
type chatRequest struct {
	SessionKey string `json:"session_key" binding:"required"`
	Text       string `json:"text" binding:"required"`
}

func (s *Server) chatMessage(c *gin.Context) {
	if s.chat == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "chat not configured"})
		return
	}
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reply := s.chat.HandleMessage(c.Request.Context(), req.SessionKey, req.Text, nil)
	c.JSON(http.StatusOK, gin.H{"reply": reply})
}

func limitParam(c *gin.Context, def int) int {
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			return n
		}
	}
	return def
}
