package ingest

import (
	"strings"
	"testing"

	"feedback_insights_backend/platform/apperr"
	"feedback_insights_backend/platform/validator"
)

func testReader() *Reader {
	return NewReader(validator.New())
}

func TestReadJSON(t *testing.T) {
	src := strings.NewReader(`[
		{"id": "fb-1", "text": "love the new editor", "source": "survey", "submittedAt": "2026-08-01T10:00:00Z", "userId": "u1"},
		{"text": "exports keep failing", "submittedAt": "2026-08-02", "userId": "u2", "metadata": {"plan": "pro"}}
	]`)

	items, err := testReader().ReadJSON(src)
	if err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items", len(items))
	}
	if items[0].ID != "fb-1" || items[0].UserID != "u1" {
		t.Fatalf("item 0: %+v", items[0])
	}
	if items[1].ID == "" {
		t.Fatal("missing id must be generated")
	}
	if items[1].Metadata["plan"] != "pro" {
		t.Fatalf("metadata lost: %+v", items[1].Metadata)
	}
}

func TestReadJSONMissingUserFails(t *testing.T) {
	src := strings.NewReader(`[{"text": "hi", "submittedAt": "2026-08-01"}]`)
	_, err := testReader().ReadJSON(src)
	if apperr.GetKind(err) != apperr.KindValidation {
		t.Fatalf("err = %v, want validation kind", err)
	}
}

func TestReadJSONNotAnArrayFails(t *testing.T) {
	src := strings.NewReader(`{"text": "hi"}`)
	_, err := testReader().ReadJSON(src)
	if apperr.GetKind(err) != apperr.KindBadRequest {
		t.Fatalf("err = %v, want bad request kind", err)
	}
}

func TestReadCSVHeaderMapped(t *testing.T) {
	src := strings.NewReader(
		"user_id,date,feedback,source,plan\n" +
			"u1,2026-08-01,search is slow,app,pro\n" +
			"u2,2026-08-02T09:30:00Z,great support,email,\n")

	items, err := testReader().ReadCSV(src)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items", len(items))
	}
	if items[0].Text != "search is slow" || items[0].UserID != "u1" || items[0].Source != "app" {
		t.Fatalf("item 0: %+v", items[0])
	}
	// Unknown column preserved as metadata.
	if items[0].Metadata["plan"] != "pro" {
		t.Fatalf("metadata: %+v", items[0].Metadata)
	}
	if items[1].SubmittedAt.IsZero() {
		t.Fatal("RFC3339 timestamp must parse")
	}
}

func TestReadCSVEmptyFileFails(t *testing.T) {
	if _, err := testReader().ReadCSV(strings.NewReader("")); err == nil {
		t.Fatal("expected error for empty file")
	}
	if _, err := testReader().ReadCSV(strings.NewReader("user_id,text,date\n")); err == nil {
		t.Fatal("expected error for header-only file")
	}
}

func TestReadCSVBadTimestampFails(t *testing.T) {
	src := strings.NewReader("user_id,date,text\nu1,yesterday,hello\n")
	_, err := testReader().ReadCSV(src)
	if apperr.GetKind(err) != apperr.KindValidation {
		t.Fatalf("err = %v, want validation kind", err)
	}
}
