package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNotFoundHandler(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", HealthHandler)
	mux.Handle("/", NotFoundHandler())

	tests := []struct {
		name   string
		method string
		path   string
		want   string
	}{
		{name: "unknown path", method: http.MethodGet, path: "/missing", want: "no route for GET /missing"},
		{name: "unknown nested path", method: http.MethodPost, path: "/purchase-orders/PO-1", want: "no route for POST /purchase-orders/PO-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			if rec.Code != http.StatusNotFound {
				t.Fatalf("expected status 404, got %d", rec.Code)
			}
			var resp errorResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if resp.Code != codeNotFound {
				t.Fatalf("expected code %s, got %s", codeNotFound, resp.Code)
			}
			if resp.Error != tt.want {
				t.Fatalf("expected message %q, got %q", tt.want, resp.Error)
			}
		})
	}
}
