package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/vesaa/ipslamon/internal/export"
	"github.com/vesaa/ipslamon/internal/ingest"
	"github.com/vesaa/ipslamon/internal/models"
	"github.com/vesaa/ipslamon/internal/store"
)

// maxReportBytes bounds a pushed report body.
const maxReportBytes = 4 << 20

// Collection reads the persisted records.
type Collection interface {
	Load(ctx context.Context) (store.Collection, error)
}

// ReportIngester accepts raw report text from the data plane.
type ReportIngester interface {
	IngestText(ctx context.Context, name, text string) (ingest.FileOutcome, error)
}

// Server serves both HTTP planes:
//   - Control plane (port 6677): JWT-protected queries over the stored collection.
//   - Data plane   (port 1616): Bearer-agent-token-protected report submission.
type Server struct {
	auth     *Auth
	records  Collection
	ingester ReportIngester
	gatherer prometheus.Gatherer
	log      logrus.FieldLogger
}

// New wires the planes. gatherer may be nil, in which case /metrics is not
// served.
func New(auth *Auth, records Collection, ing ReportIngester, gatherer prometheus.Gatherer, log logrus.FieldLogger) *Server {
	return &Server{auth: auth, records: records, ingester: ing, gatherer: gatherer, log: log}
}

// RegisterControlRoutes wires up the control-plane API on the given engine.
//
//	Public:   POST /api/login, GET /api/health, GET /metrics
//	Protected (JWT): GET /api/status, /api/records, /api/charts, /api/charts/:name
func (s *Server) RegisterControlRoutes(r *gin.Engine) {
	api := r.Group("/api")

	// ── Public endpoints ──────────────────────────────────────────────────────
	api.POST("/login", s.handleLogin)
	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
	})
	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	// ── JWT-protected endpoints ───────────────────────────────────────────────
	auth := api.Group("/", s.auth.JWTMiddleware())
	{
		auth.GET("/status", s.handleStatus)
		auth.GET("/records", s.handleRecords)
		auth.GET("/charts", s.handleCharts)
		auth.GET("/charts/:name", s.handleChartSeries)
	}
}

// RegisterDataRoutes wires up the data-plane API on the given engine.
// All /api routes require a valid Bearer agent token.
func (s *Server) RegisterDataRoutes(r *gin.Engine) {
	api := r.Group("/api", s.auth.AgentTokenMiddleware())
	{
		api.POST("/reports", s.handleReport)
	}

	// Data-plane health (no auth, used by load balancers and health checks)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

// AccessLog logs one line per request at debug level.
func AccessLog(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"elapsed": time.Since(start).String(),
		}).Debug("http request")
	}
}

// ── Handlers ──────────────────────────────────────────────────────────────────

// handleLogin accepts username + password and returns a signed JWT.
//
//	POST /api/login
//	Body: { "username": "admin", "password": "admin" }
func (s *Server) handleLogin(c *gin.Context) {
	var body struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password required"})
		return
	}
	if !s.auth.CheckCredentials(body.Username, body.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, err := s.auth.GenerateJWT(body.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_in": int(tokenTTL.Seconds()),
		"type":       "Bearer",
	})
}

// handleStatus returns the time span and size of the stored collection.
func (s *Server) handleStatus(c *gin.Context) {
	coll, ok := s.load(c)
	if !ok {
		return
	}
	first, last, count := coll.Span()
	resp := gin.H{"count": count, "first": nil, "last": nil}
	if count > 0 {
		resp["first"] = first.Format(models.TimeLayout)
		resp["last"] = last.Format(models.TimeLayout)
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// handleRecords returns the records within ?from&to (both optional, inclusive).
func (s *Server) handleRecords(c *gin.Context) {
	from, to, ok := window(c)
	if !ok {
		return
	}
	coll, ok := s.load(c)
	if !ok {
		return
	}
	recs := coll.Range(from, to)
	c.JSON(http.StatusOK, gin.H{"data": recs, "count": len(recs)})
}

// handleCharts lists the favorite charts.
func (s *Server) handleCharts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": export.Favorites})
}

// handleChartSeries returns the series of one favorite within ?from&to.
func (s *Server) handleChartSeries(c *gin.Context) {
	fav, found := export.FavoriteByName(c.Param("name"))
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown chart"})
		return
	}
	from, to, ok := window(c)
	if !ok {
		return
	}
	coll, ok := s.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": fav.Series(coll, from, to)})
}

// handleReport ingests one raw report pushed by an agent (data plane only).
//
//	POST /api/reports?name=<label>
//	Body: text/plain output of "show ip sla statistics aggregated"
func (s *Server) handleReport(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxReportBytes))
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "report body too large or unreadable"})
		return
	}
	name := c.Query("name")
	if name == "" {
		name = fmt.Sprintf("push-%s", time.Now().UTC().Format("20060102T150405"))
	}

	out, err := s.ingester.IngestText(c.Request.Context(), name, string(body))
	if err != nil {
		var pf *ingest.PersistenceFailure
		switch {
		case errors.Is(err, ingest.ErrLocked):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.As(err, &pf):
			s.log.WithError(err).WithField("file", name).Error("pushed report not persisted")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "report not persisted, retry"})
		default:
			s.log.WithError(err).WithField("file", name).Error("pushed report failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	status := http.StatusOK
	if out.Status == ingest.StatusFailed {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, gin.H{"data": out})
}

func (s *Server) load(c *gin.Context) (store.Collection, bool) {
	coll, err := s.records.Load(c.Request.Context())
	if err != nil {
		s.log.WithError(err).Error("loading records")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load records"})
		return nil, false
	}
	return coll, true
}

func window(c *gin.Context) (from, to time.Time, ok bool) {
	var err error
	if from, err = ParseBound(c.Query("from"), false); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from: " + err.Error()})
		return from, to, false
	}
	if to, err = ParseBound(c.Query("to"), true); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to: " + err.Error()})
		return from, to, false
	}
	return from, to, true
}

// ParseBound parses a time window bound given as RFC 3339,
// "2006-01-02 15:04:05" or "2006-01-02". Layouts without a zone are read as
// UTC wall-clock time, matching stored start times. A bare date used as an
// end bound covers the whole day. An empty string is the zero (open) bound.
func ParseBound(s string, end bool) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(models.TimeLayout, s, time.UTC); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is not RFC 3339, %q or %q", s, models.TimeLayout, time.DateOnly)
	}
	if end {
		t = t.Add(24*time.Hour - time.Second)
	}
	return t, nil
}
