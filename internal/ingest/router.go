package ingest

import (
	"context"
	"crypto/subtle"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"sflnotify/internal/notifier"
	"sflnotify/internal/notifier/batch"
	"sflnotify/internal/render"
	"sflnotify/internal/storage"
	logx "sflnotify/pkg/logx"
)

// Notifier is the delivery pipeline seen by the API.
type Notifier interface {
	Notify(ctx context.Context, p render.Payload) (notifier.Result, error)
	Click(ctx context.Context, p render.Payload) (render.ClickAction, error)
	Render(p render.Payload) (render.Rendered, error)
	Recent(ctx context.Context, limit int) ([]storage.Delivery, error)
}

// Batcher runs multi-payload jobs.
type Batcher interface {
	Submit(payloads []render.Payload) (string, error)
	Status(id string) (batch.JobStatus, bool)
}

// Deps are what the handlers call. Notifier and Prefs are required.
type Deps struct {
	Notifier Notifier
	Batch    Batcher
	Prefs    func() render.Preferences
	// SummaryPath returns the summary log location.
	SummaryPath func() string
	Location    func() *time.Location
	WS          gin.HandlerFunc
	Health      func() any
	// LinkNotificationsOnly overrides Prefs for link routing when set.
	LinkNotificationsOnly func() bool
}

type RouterOptions struct {
	Token string
	Pprof bool
	Log   logx.Logger
}

// NewRouter builds the gin engine. /healthz is open; everything else needs
// the bearer token when one is configured.
func NewRouter(deps Deps, opt RouterOptions) *gin.Engine {
	log := opt.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	h := &handlers{deps: deps, log: log}

	r := gin.New()
	r.Use(recovery(log), requestLogger(log))
	r.GET("/healthz", h.health)

	v1 := r.Group("/v1", tokenAuth(opt.Token))
	v1.POST("/notifications", h.notify)
	v1.POST("/notifications/click", h.click)
	v1.POST("/notifications/batch", h.submitBatch)
	v1.GET("/batches/:id", h.batchStatus)
	v1.POST("/render", h.dryRun)
	v1.GET("/deliveries", h.deliveries)
	v1.GET("/summary", h.summary)
	v1.PUT("/summary", h.putSummary)
	v1.GET("/route", h.route)
	if deps.WS != nil {
		v1.GET("/ws", deps.WS)
	}

	if opt.Pprof {
		dbg := r.Group("/debug/pprof", tokenAuth(opt.Token))
		dbg.GET("/", gin.WrapF(hpprof.Index))
		dbg.GET("/cmdline", gin.WrapF(hpprof.Cmdline))
		dbg.GET("/profile", gin.WrapF(hpprof.Profile))
		dbg.GET("/symbol", gin.WrapF(hpprof.Symbol))
		dbg.GET("/trace", gin.WrapF(hpprof.Trace))
		dbg.GET("/:profile", func(c *gin.Context) {
			hpprof.Handler(c.Param("profile")).ServeHTTP(c.Writer, c.Request)
		})
	}
	return r
}

// tokenAuth accepts "Authorization: Bearer <token>" or ?token=<token>; either
// matching credential is enough. The query form exists for WebSocket clients
// that can't set headers.
func tokenAuth(token string) gin.HandlerFunc {
	tok := []byte(strings.TrimSpace(token))
	matches := func(got string) bool {
		return got != "" && subtle.ConstantTimeCompare([]byte(got), tok) == 1
	}
	return func(c *gin.Context) {
		if len(tok) == 0 {
			c.Next()
			return
		}
		var bearer string
		const p = "Bearer "
		if ah := c.GetHeader("Authorization"); strings.HasPrefix(ah, p) {
			bearer = strings.TrimSpace(strings.TrimPrefix(ah, p))
		}
		if !matches(bearer) && !matches(c.Query("token")) {
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func requestLogger(log logx.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()

		fields := []logx.Field{
			logx.String("method", c.Request.Method),
			logx.String("path", path),
			logx.Int("status", c.Writer.Status()),
			logx.Duration("latency", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, logx.String("errors", c.Errors.String()))
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			log.Warn("http request", fields...)
			return
		}
		log.Debug("http request", fields...)
	}
}

func recovery(log logx.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, err any) {
		log.Error("http handler panic", logx.Any("panic", err), logx.String("path", c.Request.URL.Path))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	})
}
