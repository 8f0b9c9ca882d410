package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/marodse/burrow/internal/history"
	"github.com/marodse/burrow/internal/metrics"
	"github.com/marodse/burrow/internal/service"
	"github.com/marodse/burrow/internal/tunnel"
)

// historyStore is the read side of the lifecycle event history.
type historyStore interface {
	Recent(ctx context.Context, svc string, limit int) ([]history.Event, error)
}

// Router provides embeddable HTTP handlers for the supervisor.
// Endpoints:
//
//	GET  {basePath}/status           combined tunnel + services snapshot
//	POST {basePath}/tunnel/start     blocks until claim URL, connect, or timeout
//	POST {basePath}/tunnel/stop
//	POST {basePath}/services/start   query: name=... (omit for all)
//	POST {basePath}/services/stop    query: name=... (omit for all)
//	GET  {basePath}/logs             query: name=...&lines=N
//	GET  {basePath}/history          query: service=...&limit=N
//	GET  {basePath}/metrics          Prometheus exposition
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	tun      *tunnel.Manager
	svcs     *service.Supervisor
	hist     historyStore
	basePath string
}

// NewRouter constructs a Router. hist may be nil when history is not
// configured; the endpoint then answers 404.
func NewRouter(tun *tunnel.Manager, svcs *service.Supervisor, hist historyStore, basePath string) *Router {
	return &Router{tun: tun, svcs: svcs, hist: hist, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.POST("/tunnel/start", r.handleTunnelStart)
	group.POST("/tunnel/stop", r.handleTunnelStop)
	group.POST("/services/start", r.handleServiceStart)
	group.POST("/services/stop", r.handleServiceStop)
	group.GET("/logs", r.handleLogs)
	group.GET("/history", r.handleHistory)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr string, r *Router) *http.Server {
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Tunnel start blocks until the agent produces a claim URL or
		// connects, which can take most of its start timeout.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type statusResp struct {
	Tunnel   tunnel.Status    `json:"tunnel"`
	Services []service.Status `json:"services"`
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, statusResp{
		Tunnel:   r.tun.Status(),
		Services: r.svcs.StatusAll(),
	})
}

func (r *Router) handleTunnelStart(c *gin.Context) {
	if _, err := r.tun.Start(c.Request.Context()); err != nil {
		writeJSON(c, http.StatusBadGateway, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, r.tun.Status())
}

func (r *Router) handleTunnelStop(c *gin.Context) {
	if err := r.tun.Stop(); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleServiceStart(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		if err := r.svcs.StartAll(); err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
			return
		}
		writeJSON(c, http.StatusOK, okResp{OK: true})
		return
	}
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name"})
		return
	}
	if err := r.svcs.Start(name); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleServiceStop(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		if err := r.svcs.StopAll(); err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
			return
		}
		writeJSON(c, http.StatusOK, okResp{OK: true})
		return
	}
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name"})
		return
	}
	if err := r.svcs.Stop(name); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

type logsResp struct {
	Name  string   `json:"name"`
	Path  string   `json:"path"`
	Lines []string `json:"lines"`
}

func (r *Router) handleLogs(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		name = r.tun.Name()
	}
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name"})
		return
	}
	lines := 100
	if s := c.Query("lines"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "lines must be a positive integer"})
			return
		}
		lines = n
	}
	if lines > maxTailLines {
		lines = maxTailLines
	}

	var path string
	if name == r.tun.Name() {
		path = r.tun.LogPath()
	} else {
		p, err := r.svcs.LogPath(name)
		if err != nil {
			writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
			return
		}
		path = p
	}
	tail, err := TailLines(path, lines)
	if err != nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, logsResp{Name: name, Path: path, Lines: tail})
}

func (r *Router) handleHistory(c *gin.Context) {
	if r.hist == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "history not configured"})
		return
	}
	svc := c.Query("service")
	if svc != "" && !isSafeName(svc) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid service"})
		return
	}
	limit := 50
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}
	events, err := r.hist.Recent(c.Request.Context(), svc, limit)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, events)
}
