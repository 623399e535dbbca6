// Package ingest reads raw feedback files into domain items. It accepts two
// formats at the boundary: a JSON array of feedback objects and a
// header-mapped CSV. Items with malformed rows are reported, not silently
// dropped; semantic validation stays with the pipeline's validation stage.
package ingest

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"feedback_insights_backend/internal/feedback/domain"
	"feedback_insights_backend/platform/apperr"
	"feedback_insights_backend/platform/validator"
)

// feedbackInput is the wire shape of one incoming item. IDs are optional;
// missing ones are generated.
type feedbackInput struct {
	ID          string            `json:"id"`
	Text        string            `json:"text" validate:"required"`
	Source      string            `json:"source"`
	SubmittedAt string            `json:"submittedAt" validate:"required"`
	UserID      string            `json:"userId" validate:"required"`
	Metadata    map[string]string `json:"metadata"`
}

// Reader parses feedback files.
type Reader struct {
	validate *validator.Validator
}

// NewReader creates a feedback file reader.
func NewReader(validate *validator.Validator) *Reader {
	return &Reader{validate: validate}
}

// ReadJSON parses a JSON array of feedback objects.
func (r *Reader) ReadJSON(src io.Reader) ([]domain.FeedbackItem, error) {
	var inputs []feedbackInput
	if err := json.NewDecoder(src).Decode(&inputs); err != nil {
		return nil, apperr.Wrap(apperr.KindBadRequest, "feedback file is not a JSON array", err)
	}
	return r.convert(inputs)
}

// csvColumns maps header names (lowercased) to input fields.
var csvColumns = map[string]func(*feedbackInput, string){
	"id":           func(in *feedbackInput, v string) { in.ID = v },
	"text":         func(in *feedbackInput, v string) { in.Text = v },
	"feedback":     func(in *feedbackInput, v string) { in.Text = v },
	"source":       func(in *feedbackInput, v string) { in.Source = v },
	"submitted_at": func(in *feedbackInput, v string) { in.SubmittedAt = v },
	"submittedat":  func(in *feedbackInput, v string) { in.SubmittedAt = v },
	"date":         func(in *feedbackInput, v string) { in.SubmittedAt = v },
	"user_id":      func(in *feedbackInput, v string) { in.UserID = v },
	"userid":       func(in *feedbackInput, v string) { in.UserID = v },
}

// ReadCSV parses a header-mapped CSV file. Unknown columns land in item
// metadata so no uploaded data is lost.
func (r *Reader) ReadCSV(src io.Reader) ([]domain.FeedbackItem, error) {
	cr := csv.NewReader(src)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindBadRequest, "feedback CSV has no header row", err)
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}

	var inputs []feedbackInput
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apperr.Wrap(apperr.KindBadRequest, fmt.Sprintf("feedback CSV line %d is malformed", line), err)
		}

		var in feedbackInput
		for i, value := range row {
			if i >= len(header) {
				break
			}
			if setter, ok := csvColumns[header[i]]; ok {
				setter(&in, value)
				continue
			}
			if value != "" {
				if in.Metadata == nil {
					in.Metadata = map[string]string{}
				}
				in.Metadata[header[i]] = value
			}
		}
		inputs = append(inputs, in)
	}

	return r.convert(inputs)
}

// timeLayouts accepted for submittedAt, tried in order.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func (r *Reader) convert(inputs []feedbackInput) ([]domain.FeedbackItem, error) {
	if len(inputs) == 0 {
		return nil, apperr.BadRequest("feedback file contains no items")
	}

	items := make([]domain.FeedbackItem, 0, len(inputs))
	for i, in := range inputs {
		if err := r.validate.Struct(in); err != nil {
			return nil, apperr.Wrap(apperr.KindValidation, fmt.Sprintf("feedback item %d is invalid", i+1), err)
		}

		submittedAt, err := parseTime(in.SubmittedAt)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindValidation, fmt.Sprintf("feedback item %d has an unparseable timestamp %q", i+1, in.SubmittedAt), err)
		}

		id := in.ID
		if id == "" {
			id = uuid.NewString()
		}
		items = append(items, domain.FeedbackItem{
			ID:          id,
			Text:        in.Text,
			Source:      in.Source,
			SubmittedAt: submittedAt,
			UserID:      in.UserID,
			Metadata:    in.Metadata,
		})
	}
	return items, nil
}

func parseTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	var lastErr error
	for _, layout := range timeLayouts {
		t, err := time.Parse(layout, value)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
