package submissions

import (
	"errors"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vriksha-code/verisure/internal/datauri"
	"github.com/vriksha-code/verisure/internal/doctype"
	"github.com/vriksha-code/verisure/internal/notify"
	"github.com/vriksha-code/verisure/internal/shared/server/middleware"
	"github.com/vriksha-code/verisure/internal/shared/server/respond"
)

const (
	defaultListLimit = 50
	maxBatchFiles    = 10
	streamHeartbeat  = 25 * time.Second
)

// Handler wires HTTP handlers to the submission service.
type Handler struct {
	Svc       *Service
	Hub       *notify.Hub
	Heartbeat time.Duration
}

// NewHandler constructs a Handler. hub may be nil.
func NewHandler(svc *Service, hub *notify.Hub) *Handler {
	return &Handler{Svc: svc, Hub: hub, Heartbeat: streamHeartbeat}
}

// RegisterRoutes attaches submission routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/document-types", h.documentTypes)
	rg.POST("/submissions", h.submit)
	rg.POST("/submissions/batch", h.submitBatch)
	rg.GET("/submissions", h.list)
	rg.GET("/submissions/stream", h.stream)
	rg.GET("/submissions/:id", h.get)
	rg.DELETE("/submissions/:id", h.retract)
}

// recordResponse never carries the inline payload; clients load it via documentUrl or ?include=payload.
type recordResponse struct {
	Record
	StatusLabel string `json:"statusLabel"`
	FileSize    string `json:"fileSize"`
}

func toResponse(rec Record, withPayload bool) recordResponse {
	if !withPayload {
		rec.DocumentPayload = ""
	}
	return recordResponse{Record: rec, StatusLabel: rec.Status.Label(), FileSize: FormatBytes(rec.FileSizeBytes)}
}

func toResponses(recs []Record) []recordResponse {
	out := make([]recordResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toResponse(rec, false))
	}
	return out
}

func (h *Handler) documentTypes(c *gin.Context) {
	respond.OK(c, gin.H{"documentTypes": doctype.All()})
}

func (h *Handler) submit(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		writeValidation(c, &ValidationError{Field: "file", Message: "a file is required"})
		return
	}
	sub, closeFn, err := h.submission(c, fh)
	if err != nil {
		writeError(c, err, "failed to read upload")
		return
	}
	defer closeFn()

	rec, err := h.Svc.Submit(c.Request.Context(), sub)
	if err != nil {
		writeError(c, err, "failed to submit document")
		return
	}
	c.Set("submissionId", rec.ID)
	c.Set("statusTransition", "->"+string(rec.Status))
	respond.Accepted(c, toResponse(rec, false))
}

func (h *Handler) submitBatch(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		writeValidation(c, &ValidationError{Field: "files", Message: "multipart form expected"})
		return
	}
	files := form.File["files[]"]
	if len(files) == 0 {
		files = form.File["files"]
	}
	if len(files) == 0 {
		writeValidation(c, &ValidationError{Field: "files", Message: "at least one file is required"})
		return
	}
	if len(files) > maxBatchFiles {
		writeValidation(c, &ValidationError{Field: "files", Message: "at most " + strconv.Itoa(maxBatchFiles) + " files per batch"})
		return
	}

	subs := make([]Submission, 0, len(files))
	for _, fh := range files {
		sub, closeFn, err := h.submission(c, fh)
		if err != nil {
			writeError(c, err, "failed to read upload")
			return
		}
		defer closeFn()
		subs = append(subs, sub)
	}

	recs, err := h.Svc.SubmitBatch(c.Request.Context(), subs)
	if err != nil {
		writeError(c, err, "failed to submit documents")
		return
	}
	respond.Accepted(c, gin.H{"submissions": toResponses(recs)})
}

func (h *Handler) submission(c *gin.Context, fh *multipart.FileHeader) (Submission, func(), error) {
	f, err := fh.Open()
	if err != nil {
		return Submission{}, func() {}, &datauri.ReadError{Err: err}
	}
	return Submission{
		OwnerID:      middleware.UserIDFromContext(c),
		SubmittedBy:  middleware.UserNameFromContext(c),
		FileName:     fh.Filename,
		Body:         f,
		Size:         fh.Size,
		MediaType:    partMediaType(fh),
		DocumentType: c.PostForm("documentType"),
		Task:         c.PostForm("verificationTask"),
	}, func() { _ = f.Close() }, nil
}

// partMediaType trusts the part header unless it is missing or generic.
func partMediaType(fh *multipart.FileHeader) string {
	ct := strings.TrimSpace(fh.Header.Get("Content-Type"))
	if ct != "" && !strings.HasPrefix(ct, "application/octet-stream") {
		return ct
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(fh.Filename))); byExt != "" {
		return byExt
	}
	return ct
}

func (h *Handler) list(c *gin.Context) {
	limit := defaultListLimit
	offset := 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if limit < 0 {
		limit = 0
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}
	if offset < 0 {
		offset = 0
	}

	recs, err := h.Svc.List(c.Request.Context(), middleware.UserIDFromContext(c), limit, offset)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to list submissions", nil)
		return
	}
	respond.OK(c, gin.H{"submissions": toResponses(recs), "limit": limit, "offset": offset})
}

func (h *Handler) get(c *gin.Context) {
	id := c.Param("id")
	c.Set("submissionId", id)
	rec, err := h.Svc.Get(c.Request.Context(), middleware.UserIDFromContext(c), id)
	if err != nil {
		writeError(c, err, "failed to fetch submission")
		return
	}
	respond.OK(c, toResponse(rec, c.Query("include") == "payload"))
}

func (h *Handler) retract(c *gin.Context) {
	id := c.Param("id")
	c.Set("submissionId", id)
	if err := h.Svc.Retract(c.Request.Context(), middleware.UserIDFromContext(c), id); err != nil {
		writeError(c, err, "failed to remove submission")
		return
	}
	c.Status(http.StatusNoContent)
}

// stream sends "snapshot" events with the owner's ordered listing and
// "notification" events for user-visible errors until the client leaves.
func (h *Handler) stream(c *gin.Context) {
	ctx := c.Request.Context()
	owner := middleware.UserIDFromContext(c)
	snapshots, err := h.Svc.Subscribe(ctx, owner)
	if err != nil {
		respond.Error(c, http.StatusNotImplemented, "stream_unavailable", "live updates are not available", nil)
		return
	}
	var notes <-chan notify.Notification
	if h.Hub != nil {
		notes = h.Hub.Subscribe(ctx, owner)
	}
	heartbeat := h.Heartbeat
	if heartbeat <= 0 {
		heartbeat = streamHeartbeat
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			c.SSEvent("snapshot", gin.H{"submissions": toResponses(snap)})
		case n, ok := <-notes:
			if !ok {
				notes = nil
				continue
			}
			c.SSEvent("notification", n)
		case <-ticker.C:
			_, _ = c.Writer.WriteString(": ping\n\n")
		}
		c.Writer.Flush()
	}
}

func writeValidation(c *gin.Context, verr *ValidationError) {
	respond.Invalid(c, verr.Field, verr.Message)
}

func writeError(c *gin.Context, err error, fallback string) {
	var (
		verr *ValidationError
		rerr *datauri.ReadError
	)
	switch {
	case errors.As(err, &verr):
		writeValidation(c, verr)
	case errors.As(err, &rerr):
		respond.Error(c, http.StatusUnprocessableEntity, "read_error", "Could not read the uploaded file.", nil)
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "submission not found", nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", fallback, nil)
	}
}
