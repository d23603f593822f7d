package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestRecoveryReturnsInternalError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestID(), Recovery())
	router.GET("/api/v1/submissions/:id", func(c *gin.Context) {
		panic("boom")
	})

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/submissions/s1", nil))

	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Error.Code != "internal_error" {
		t.Fatalf("expected internal_error, got %q", payload.Error.Code)
	}
}

func TestRecoveryAfterWriteKeepsResponse(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Recovery())
	router.GET("/stream", func(c *gin.Context) {
		c.String(http.StatusOK, "event: snapshot\n\n")
		panic("late")
	})

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/stream", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected the started response to stand, got %d", resp.Code)
	}
	if strings.Contains(resp.Body.String(), "internal_error") {
		t.Fatalf("error envelope must not be appended to a started body")
	}
}

func TestRequestIDKeepsUsableHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestID())
	router.GET("/id", func(c *gin.Context) {
		c.String(http.StatusOK, RequestIDFromContext(c))
	})

	tests := []struct {
		name   string
		header string
		keep   bool
	}{
		{name: "caller id", header: "req-123", keep: true},
		{name: "empty", header: "", keep: false},
		{name: "too long", header: strings.Repeat("a", maxRequestIDLen+1), keep: false},
		{name: "control chars", header: "bad\x01id", keep: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/id", nil)
			if tt.header != "" {
				req.Header.Set(requestIDHeader, tt.header)
			}
			resp := httptest.NewRecorder()
			router.ServeHTTP(resp, req)

			got := resp.Header().Get(requestIDHeader)
			if got == "" || got != resp.Body.String() {
				t.Fatalf("expected echoed id, header=%q body=%q", got, resp.Body.String())
			}
			if tt.keep && got != tt.header {
				t.Fatalf("expected %q kept, got %q", tt.header, got)
			}
			if !tt.keep && got == tt.header {
				t.Fatalf("expected a minted id, got %q", got)
			}
		})
	}
}
