package server

import (
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
)

func TestMain(m *testing.M) {
	// TextHandler(io.Discard) still formats attrs, keeping alloc counts honest,
	// while keeping benchmark output clean.
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
	os.Exit(m.Run())
}

var fragmentPayload = `{"value":"` +
	base64.StdEncoding.EncodeToString([]byte(strings.Repeat("<li>item</li>", 64))) +
	`","sliding_expiration":"5m"}`

func BenchmarkGetEntry(b *testing.B) {
	h := newTestHandler(b)
	if rec := do(b, h, http.MethodPut, "/v1/caches/fragments/entries/nav", fragmentPayload); rec.Code != http.StatusNoContent {
		b.Fatalf("seed: status = %d; body = %s", rec.Code, rec.Body.String())
	}

	b.ResetTimer()
	for b.Loop() {
		req := httptest.NewRequest(http.MethodGet, "/v1/caches/fragments/entries/nav", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			b.Fatalf("status = %d, want 200", rec.Code)
		}
	}
}

func BenchmarkPutEntry(b *testing.B) {
	h := newTestHandler(b)

	b.ResetTimer()
	for b.Loop() {
		req := httptest.NewRequest(http.MethodPut, "/v1/caches/fragments/entries/nav", strings.NewReader(fragmentPayload))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			b.Fatalf("status = %d, want 204; body = %s", rec.Code, rec.Body.String())
		}
	}
}

func BenchmarkGetEntryParallel(b *testing.B) {
	h := newTestHandler(b)
	do(b, h, http.MethodPut, "/v1/caches/fragments/entries/nav", fragmentPayload)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			req := httptest.NewRequest(http.MethodGet, "/v1/caches/fragments/entries/nav", nil)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != http.StatusOK {
				b.Errorf("status = %d, want 200", rec.Code)
				return
			}
		}
	})
}
