package linkservice

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"applinks.local/internal/app/applinks/linkapi"
)

func TestRouter_AuthAndErrorBody(t *testing.T) {
	srv := httptest.NewServer(NewRouter(New(), "pk_test"))
	defer srv.Close()

	body := strings.NewReader(`{"url":"https://example.com/x"}`)
	resp, err := http.Post(srv.URL+"/api/v1/links/retrieve", "application/json", body)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status: got %d, want 401", resp.StatusCode)
	}
	var er linkapi.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if er.Error.Status != "UNAUTHORIZED" || er.Error.Code != 401 {
		t.Fatalf("error body: got %+v", er)
	}
}

func TestRouter_CreateValidation(t *testing.T) {
	srv := httptest.NewServer(NewRouter(New(), ""))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/links", "application/json", bytes.NewBufferString(`{"domain":"example.com","link":{"title":"x"}}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", resp.StatusCode)
	}
	var er linkapi.ErrorResponse
	_ = json.NewDecoder(resp.Body).Decode(&er)
	if !strings.Contains(er.Error.Message, "original_url") {
		t.Fatalf("message: got %q", er.Error.Message)
	}
}

func TestRouter_ClickRedirectsWithReferrer(t *testing.T) {
	svc := New()
	svc.Seed(linkapi.Link{Domain: "example.com", AliasPath: "go", OriginalURL: "https://example.com/landing"})
	h := NewRouter(svc, "")

	req := httptest.NewRequest(http.MethodGet, "http://example.com:8080/go", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status: got %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "https://example.com/landing" {
		t.Fatalf("location: got %q", loc)
	}
	ref := rec.Header().Get(ReferrerHeader)
	id, ok := strings.CutPrefix(ref, "applinks_visit_id=")
	if !ok {
		t.Fatalf("referrer header: got %q", ref)
	}
	if _, err := svc.Visit(id); err != nil {
		t.Fatalf("Visit(%s): %v", id, err)
	}
}
