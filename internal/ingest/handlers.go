package ingest

import (
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"sflnotify/internal/linkroute"
	"sflnotify/internal/notifier"
	"sflnotify/internal/notifier/batch"
	"sflnotify/internal/notifylog"
	"sflnotify/internal/render"
	logx "sflnotify/pkg/logx"
)

const (
	defaultDeliveryLimit = 50
	maxDeliveryLimit     = 1000
	maxBatchSize         = 500
)

type handlers struct {
	deps Deps
	log  logx.Logger
}

func respondError(c *gin.Context, code int, err error) {
	c.AbortWithStatusJSON(code, gin.H{"error": err.Error()})
}

func (h *handlers) prefs() render.Preferences {
	if h.deps.Prefs == nil {
		return render.Preferences{}
	}
	return h.deps.Prefs()
}

func (h *handlers) location() *time.Location {
	if h.deps.Location == nil {
		return time.Local
	}
	if loc := h.deps.Location(); loc != nil {
		return loc
	}
	return time.Local
}

func (h *handlers) health(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if h.deps.Health != nil {
		body["details"] = h.deps.Health()
	}
	c.JSON(http.StatusOK, body)
}

// notifyStatus maps pipeline errors to HTTP codes.
func notifyStatus(err error) int {
	switch {
	case errors.Is(err, notifier.ErrQueueFull), errors.Is(err, batch.ErrBusy):
		return http.StatusTooManyRequests
	case errors.Is(err, notifier.ErrDisabled), errors.Is(err, notifier.ErrStopped), errors.Is(err, batch.ErrNotReady):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *handlers) notify(c *gin.Context) {
	var p render.Payload
	if err := c.ShouldBindJSON(&p); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}
	res, err := h.deps.Notifier.Notify(c.Request.Context(), p)
	if err != nil {
		respondError(c, notifyStatus(err), err)
		return
	}
	code := http.StatusOK
	if res.Status == notifier.StatusQueued {
		code = http.StatusAccepted
	}
	c.JSON(code, res)
}

func (h *handlers) click(c *gin.Context) {
	var p render.Payload
	if err := c.ShouldBindJSON(&p); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}
	action, err := h.deps.Notifier.Click(c.Request.Context(), p)
	if errors.Is(err, render.ErrSuppressed) {
		c.JSON(http.StatusOK, gin.H{"suppressed": true})
		return
	}
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"action": action})
}

type batchRequest struct {
	Payloads []render.Payload `json:"payloads"`
}

func (h *handlers) submitBatch(c *gin.Context) {
	if h.deps.Batch == nil {
		respondError(c, http.StatusNotImplemented, errors.New("batch ingestion disabled"))
		return
	}
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}
	if len(req.Payloads) == 0 {
		respondError(c, http.StatusBadRequest, batch.ErrEmpty)
		return
	}
	if len(req.Payloads) > maxBatchSize {
		respondError(c, http.StatusRequestEntityTooLarge, errors.New("too many payloads (max "+strconv.Itoa(maxBatchSize)+")"))
		return
	}
	id, err := h.deps.Batch.Submit(req.Payloads)
	if err != nil {
		respondError(c, notifyStatus(err), err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id})
}

func (h *handlers) batchStatus(c *gin.Context) {
	if h.deps.Batch == nil {
		respondError(c, http.StatusNotImplemented, errors.New("batch ingestion disabled"))
		return
	}
	st, ok := h.deps.Batch.Status(c.Param("id"))
	if !ok {
		respondError(c, http.StatusNotFound, errors.New("unknown batch"))
		return
	}
	c.JSON(http.StatusOK, st)
}

// dryRun renders without queueing. Suppressed payloads are a normal answer, not an error.
func (h *handlers) dryRun(c *gin.Context) {
	var p render.Payload
	if err := c.ShouldBindJSON(&p); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}
	r, err := h.deps.Notifier.Render(p)
	if errors.Is(err, render.ErrSuppressed) {
		c.JSON(http.StatusOK, gin.H{"suppressed": true})
		return
	}
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"suppressed": false, "rendered": r})
}

func (h *handlers) deliveries(c *gin.Context) {
	limit := defaultDeliveryLimit
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(c, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = min(n, maxDeliveryLimit)
	}
	ds, err := h.deps.Notifier.Recent(c.Request.Context(), limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deliveries": ds})
}

func (h *handlers) summaryPath() string {
	if h.deps.SummaryPath == nil {
		return notifylog.DefaultFileName
	}
	if p := strings.TrimSpace(h.deps.SummaryPath()); p != "" {
		return p
	}
	return notifylog.DefaultFileName
}

// summary returns the display text, or the parsed form with ?format=json.
func (h *handlers) summary(c *gin.Context) {
	path := h.summaryPath()
	if c.Query("format") != "json" {
		c.String(http.StatusOK, notifylog.ReadFile(path))
		return
	}
	s, err := notifylog.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		respondError(c, http.StatusNotFound, errors.New("no summary log"))
		return
	}
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

type summaryRequest struct {
	GeneratedAt *time.Time           `json:"generated_at,omitempty"`
	Items       []notifylog.Upcoming `json:"items"`
}

// putSummary replaces the summary log with the client's upcoming schedule.
func (h *handlers) putSummary(c *gin.Context) {
	var req summaryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}
	at := time.Now()
	if req.GeneratedAt != nil && !req.GeneratedAt.IsZero() {
		at = *req.GeneratedAt
	}
	at = at.In(h.location())
	if err := notifylog.WriteFile(h.summaryPath(), at, req.Items); err != nil {
		h.log.Warn("summary log write failed", logx.Err(err))
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"written": len(req.Items)})
}

func (h *handlers) route(c *gin.Context) {
	url := strings.TrimSpace(c.Query("url"))
	if url == "" {
		respondError(c, http.StatusBadRequest, errors.New("url is required"))
		return
	}
	only := h.prefs().NotificationsOnly
	if h.deps.LinkNotificationsOnly != nil {
		only = h.deps.LinkNotificationsOnly()
	}
	dest := linkroute.Resolve(url, only)
	c.JSON(http.StatusOK, gin.H{"url": url, "destination": dest})
}
