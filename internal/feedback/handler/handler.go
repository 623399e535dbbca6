// Package handler exposes the feedback pipeline over HTTP: run creation from
// an uploaded file or JSON body, the live SSE event stream and the
// server-side reconstructed run state.
package handler

import (
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"feedback_insights_backend/internal/feedback/domain"
	"feedback_insights_backend/internal/feedback/ingest"
	"feedback_insights_backend/internal/feedback/service"
	"feedback_insights_backend/internal/feedback/stream"
	"feedback_insights_backend/platform/apperr"
	"feedback_insights_backend/platform/httpkit"
)

// maxUploadBytes caps feedback file uploads at 8 MiB.
const maxUploadBytes = 8 << 20

// Handler wires the feedback endpoints.
type Handler struct {
	svc       *service.Service
	reader    *ingest.Reader
	broadcast *stream.Service
}

// New creates the feedback handler.
func New(svc *service.Service, reader *ingest.Reader, broadcast *stream.Service) *Handler {
	return &Handler{svc: svc, reader: reader, broadcast: broadcast}
}

// RegisterRoutes mounts the feedback routes on the given group.
func (h *Handler) RegisterRoutes(group *gin.RouterGroup) {
	group.POST("/runs", h.createRun)
	group.GET("/runs/:id/events", h.broadcast.Handler())
	group.GET("/runs/:id/state", h.runState)
}

type createRunResponse struct {
	RunID     string `json:"runId"`
	ItemCount int    `json:"itemCount"`
	EventsURL string `json:"eventsUrl"`
	StateURL  string `json:"stateUrl"`
}

// createRun accepts either a multipart upload (field "feedback", CSV or
// JSON) or a raw JSON array body, and schedules a pipeline run over it.
func (h *Handler) createRun(c *gin.Context) {
	items, err := h.readItems(c)
	if httpkit.HandleError(c, err) {
		return
	}

	runID, err := h.svc.StartRun(c.Request.Context(), items)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.Accepted(c, createRunResponse{
		RunID:     runID.String(),
		ItemCount: len(items),
		EventsURL: "/api/v1/feedback/runs/" + runID.String() + "/events",
		StateURL:  "/api/v1/feedback/runs/" + runID.String() + "/state",
	})
}

func (h *Handler) readItems(c *gin.Context) ([]domain.FeedbackItem, error) {
	contentType := c.ContentType()

	if strings.HasPrefix(contentType, "multipart/form-data") {
		file, header, err := c.Request.FormFile("feedback")
		if err != nil {
			return nil, apperr.BadRequest(`multipart upload needs a "feedback" file field`)
		}
		defer file.Close()
		return h.readUpload(file, header)
	}

	body := http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)
	return h.reader.ReadJSON(body)
}

func (h *Handler) readUpload(file multipart.File, header *multipart.FileHeader) ([]domain.FeedbackItem, error) {
	if header.Size > maxUploadBytes {
		return nil, apperr.BadRequest("feedback file exceeds the 8 MiB upload limit")
	}

	switch strings.ToLower(filepath.Ext(header.Filename)) {
	case ".csv":
		return h.reader.ReadCSV(file)
	case ".json":
		return h.reader.ReadJSON(file)
	default:
		return nil, apperr.BadRequest("feedback file must be .csv or .json")
	}
}

// runState returns the state reconstructed from the run's buffered events.
func (h *Handler) runState(c *gin.Context) {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.HandleError(c, apperr.BadRequest("invalid run id"))
		return
	}

	state, err := h.svc.State(runID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, state)
}
