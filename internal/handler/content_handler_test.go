package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/tradeguard/internal/model"
)

func TestContentHandler_CheckContent_FiltersText(t *testing.T) {
	filter := &mockContentFilter{
		filterFn: func(ctx context.Context, text string) *model.FilterResult {
			return &model.FilterResult{
				Passed:     false,
				Severity:   model.SeverityBlock,
				Violations: []model.Violation{{Word: "scamcoin", Severity: model.WordSeverityHigh, Source: model.ViolationSourceCustom, Category: "fraud"}},
				Filtered:   "buy ******** now",
				Categories: []string{"fraud"},
				Confidence: 0.9,
			}
		},
	}
	h := NewContentHandler(filter, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/content/check", bytes.NewBufferString(`{"text":"buy scamcoin now"}`))
	req = withPrincipal(req, "user-7", false)
	w := httptest.NewRecorder()

	h.CheckContent(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var result map[string]interface{}
	decodeBody(t, w, &result)
	if result["passed"] != false {
		t.Errorf("passed = %v, want false", result["passed"])
	}
	if result["severity"] != "block" {
		t.Errorf("severity = %v, want block", result["severity"])
	}
	if result["filtered"] != "buy ******** now" {
		t.Errorf("filtered = %v, want masked text", result["filtered"])
	}
	if filter.calls != 1 {
		t.Errorf("filter calls = %d, want 1", filter.calls)
	}
}

func TestContentHandler_CheckContent_CleanTextHasEmptyArrays(t *testing.T) {
	h := NewContentHandler(&mockContentFilter{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/content/check", bytes.NewBufferString(`{"text":"nice camera"}`))
	req = withPrincipal(req, "user-7", false)
	w := httptest.NewRecorder()

	h.CheckContent(w, req)

	var result map[string]interface{}
	decodeBody(t, w, &result)
	if v, ok := result["violations"].([]interface{}); !ok || len(v) != 0 {
		t.Errorf("violations = %v, want []", result["violations"])
	}
	if v, ok := result["categories"].([]interface{}); !ok || len(v) != 0 {
		t.Errorf("categories = %v, want []", result["categories"])
	}
	if result["severity"] != "none" {
		t.Errorf("severity = %v, want none", result["severity"])
	}
}

func TestContentHandler_CheckContent_WithTargetUsesScreener(t *testing.T) {
	filter := &mockContentFilter{}
	screener := &mockScreener{result: &model.FilterResult{Passed: false, Severity: model.SeverityBlock}}
	h := NewContentHandler(filter, screener)

	req := httptest.NewRequest(http.MethodPost, "/api/content/check", bytes.NewBufferString(`{"text":"bad","target_type":"listing","target_id":"listing-3"}`))
	req = withPrincipal(req, "user-7", false)
	w := httptest.NewRecorder()

	h.CheckContent(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if len(screener.calls) != 1 {
		t.Fatalf("screen calls = %d, want 1", len(screener.calls))
	}
	call := screener.calls[0]
	if call.authorID != "user-7" || call.targetType != model.TargetTypeListing || call.targetID != "listing-3" || call.text != "bad" {
		t.Errorf("screen call = %+v", call)
	}
	if filter.calls != 0 {
		t.Errorf("filter calls = %d, want 0", filter.calls)
	}
}

func TestContentHandler_CheckContent_Unauthenticated(t *testing.T) {
	h := NewContentHandler(&mockContentFilter{}, nil)

	w := httptest.NewRecorder()
	h.CheckContent(w, httptest.NewRequest(http.MethodPost, "/api/content/check", bytes.NewBufferString(`{"text":"x"}`)))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}
