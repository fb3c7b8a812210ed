package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
)

func TestHealth(t *testing.T) {
	handler := newTestHandler(&fakeStore{})

	recorder := doRequest(t, handler, http.MethodGet, "/health", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode health response: %v", err)
	}
	if payload["ok"] != true {
		t.Fatalf("ok = %v, want true", payload["ok"])
	}
}

func TestReady(t *testing.T) {
	handler := newTestHandler(&fakeStore{})

	recorder := doRequest(t, handler, http.MethodGet, "/ready", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}
	var payload struct {
		Ok     bool   `json:"ok"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode ready response: %v", err)
	}
	if !payload.Ok || payload.Status != "ready" {
		t.Fatalf("unexpected ready payload: %+v", payload)
	}
}

func TestReadyDatabaseDown(t *testing.T) {
	handler := newTestHandler(&fakeStore{
		pingFn: func(context.Context) error {
			return errors.New("connection refused")
		},
	})

	recorder := doRequest(t, handler, http.MethodGet, "/ready", "", nil)
	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", recorder.Code)
	}
	var payload struct {
		Ok     bool   `json:"ok"`
		Status string `json:"status"`
		Checks map[string]struct {
			Status string `json:"status"`
			Error  string `json:"error"`
		} `json:"checks"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode ready response: %v", err)
	}
	if payload.Ok || payload.Status != "not_ready" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if payload.Checks["database"].Status != "error" {
		t.Fatalf("database check = %+v", payload.Checks["database"])
	}
}
