// Package api serves evaluations over HTTP.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/signalnine/riskarena/internal/catalog"
	"github.com/signalnine/riskarena/internal/evaluation"
	"github.com/signalnine/riskarena/internal/leaderboard"
	"github.com/signalnine/riskarena/internal/result"
)

const (
	maxRequestBytes     = 1 << 20
	defaultLeaderboardN = 10
)

// Evaluator runs one evaluation to a terminal state.
type Evaluator interface {
	Evaluate(ctx context.Context, req *evaluation.Request) *result.Outcome
}

// Ranking reads the leaderboard.
type Ranking interface {
	Top(n int) ([]leaderboard.Entry, error)
}

type Options struct {
	Evaluator Evaluator
	Catalog   *catalog.Catalog
	// ResultsDir is searched for stored outcomes.
	ResultsDir string
	PublicURL  string

	// Optional.
	Ranking Ranking
	Events  http.Handler
	Metrics http.Handler

	Logger hclog.Logger
}

type handlers struct {
	opts Options
	card AgentCard
	log  hclog.Logger
}

// NewRouter wires every route onto a fresh gin engine.
func NewRouter(opts Options) *gin.Engine {
	log := opts.Logger
	if log == nil {
		log = hclog.NewNullLogger()
	}
	h := &handlers{opts: opts, card: NewAgentCard(opts.PublicURL), log: log.Named("api")}

	r := gin.New()
	r.Use(gin.Recovery(), h.logRequests)

	r.GET("/healthz", h.health)
	r.GET("/.well-known/agent-card.json", h.agentCard)

	v1 := r.Group("/v1")
	v1.POST("/evaluations", h.createEvaluation)
	v1.GET("/evaluations/:id", h.getEvaluation)
	v1.GET("/catalog", h.listCatalog)
	v1.GET("/leaderboard", h.leaderboard)
	if opts.Events != nil {
		v1.GET("/events", gin.WrapH(opts.Events))
	}
	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics))
	}
	return r
}

func (h *handlers) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	h.log.Debug("request", "method", c.Request.Method, "path", c.FullPath(),
		"status", c.Writer.Status(), "duration", time.Since(start))
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": evaluation.Version})
}

func (h *handlers) agentCard(c *gin.Context) {
	c.JSON(http.StatusOK, h.card)
}

// statusFor maps a terminal state to the synchronous response code.
func statusFor(state string) int {
	switch state {
	case evaluation.Completed.String():
		return http.StatusOK
	case evaluation.Rejected.String():
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

func (h *handlers) createEvaluation(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxRequestBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read request body"})
		return
	}
	req, err := evaluation.ParseRequest(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	out := h.opts.Evaluator.Evaluate(c.Request.Context(), req)
	c.JSON(statusFor(out.State), out)
}

func (h *handlers) getEvaluation(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "evaluation id must be a UUID"})
		return
	}
	_, out, err := result.FindEvaluation(h.opts.ResultsDir, id.String())
	if errors.Is(err, result.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "evaluation not found"})
		return
	}
	if err != nil {
		h.log.Error("reading stored evaluation", "id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not read evaluation"})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *handlers) listCatalog(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"contracts":       h.opts.Catalog.ContractFiles(),
		"vulnerabilities": h.opts.Catalog.Entries(),
	})
}

func (h *handlers) leaderboard(c *gin.Context) {
	if h.opts.Ranking == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "leaderboard is disabled"})
		return
	}
	n := defaultLeaderboardN
	if s := c.Query("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		n = v
	}
	entries, err := h.opts.Ranking.Top(n)
	if err != nil {
		h.log.Error("reading leaderboard", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not read leaderboard"})
		return
	}
	if entries == nil {
		entries = []leaderboard.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
