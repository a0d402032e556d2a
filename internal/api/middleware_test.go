package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/solacelabs/tandem/internal/types"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware(t *testing.T) {
	handler := AuthMiddleware("secret")(okHandler())

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"valid token", "Bearer secret", http.StatusOK},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic secret", http.StatusUnauthorized},
		{"bare token", "secret", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestMemberMiddleware(t *testing.T) {
	couple := types.Couple{First: "Wissam", Second: "Sylvie"}

	var seen types.Member
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = MustMemberFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := MemberMiddleware(couple)(inner)

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantMember types.Member
	}{
		{"first member", "Wissam", http.StatusOK, "Wissam"},
		{"second member", "Sylvie", http.StatusOK, "Sylvie"},
		{"trimmed", "  Sylvie  ", http.StatusOK, "Sylvie"},
		{"missing", "", http.StatusBadRequest, ""},
		{"stranger", "Alice", http.StatusForbidden, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set(MemberHeader, tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if seen != tt.wantMember {
				t.Errorf("member = %q, want %q", seen, tt.wantMember)
			}
			if tt.wantStatus == http.StatusForbidden &&
				!strings.Contains(rec.Body.String(), "must be one of: Wissam, Sylvie") {
				t.Errorf("body = %q, want the couple's members named", rec.Body.String())
			}
		})
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}
