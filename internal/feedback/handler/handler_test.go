package handler

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"feedback_insights_backend/internal/events"
	"feedback_insights_backend/internal/feedback/ingest"
	"feedback_insights_backend/internal/feedback/pipeline"
	"feedback_insights_backend/internal/feedback/service"
	"feedback_insights_backend/internal/feedback/stream"
	"feedback_insights_backend/platform/logger"
	"feedback_insights_backend/platform/validator"
)

func testEngine(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logger.New("development")
	broadcast := stream.New(log)
	bus := events.NewInMemoryBus(log)

	// Runs are accepted but never executed here; collaborator wiring is
	// covered by the pipeline tests.
	svc := service.New(service.Collaborators{}, broadcast, stream.MultiSink{broadcast}, nil, bus, log, pipeline.Options{})
	h := New(svc, ingest.NewReader(validator.New()), broadcast)

	engine := gin.New()
	h.RegisterRoutes(engine.Group("/api/v1/feedback"))
	return engine
}

func TestCreateRunFromJSONBody(t *testing.T) {
	engine := testEngine(t)

	body := `[
		{"text": "love it", "userId": "u1", "submittedAt": "2026-08-01T10:00:00Z"},
		{"text": "hate it", "userId": "u2", "submittedAt": "2026-08-02T10:00:00Z"}
	]`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/feedback/runs", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp createRunResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ItemCount != 2 {
		t.Fatalf("itemCount = %d, want 2", resp.ItemCount)
	}
	runID, err := uuid.Parse(resp.RunID)
	if err != nil {
		t.Fatalf("runId %q is not a uuid: %v", resp.RunID, err)
	}

	// The run id is immediately valid for state queries.
	stateReq := httptest.NewRequest(http.MethodGet, "/api/v1/feedback/runs/"+runID.String()+"/state", nil)
	stateRec := httptest.NewRecorder()
	engine.ServeHTTP(stateRec, stateReq)
	if stateRec.Code != http.StatusOK {
		t.Fatalf("state status = %d, body = %s", stateRec.Code, stateRec.Body.String())
	}
	if !strings.Contains(stateRec.Body.String(), `"status":"running"`) {
		t.Fatalf("state body: %s", stateRec.Body.String())
	}
}

func TestCreateRunFromCSVUpload(t *testing.T) {
	engine := testEngine(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("feedback", "feedback.csv")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte("user_id,date,text\nu1,2026-08-01,slow search\nu2,2026-08-02,great docs\n"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/feedback/runs", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp createRunResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ItemCount != 2 {
		t.Fatalf("itemCount = %d, want 2", resp.ItemCount)
	}
}

func TestCreateRunRejectsUnsupportedExtension(t *testing.T) {
	engine := testEngine(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("feedback", "feedback.xlsx")
	fw.Write([]byte("binary"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/feedback/runs", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCreateRunRejectsEmptyArray(t *testing.T) {
	engine := testEngine(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/feedback/runs", strings.NewReader("[]"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestRunStateUnknownRun(t *testing.T) {
	engine := testEngine(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/feedback/runs/"+uuid.NewString()+"/state", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestRunStateInvalidID(t *testing.T) {
	engine := testEngine(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/feedback/runs/not-a-uuid/state", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
