package linkservice

import (
	"errors"
	"strings"
	"testing"
	"time"

	"applinks.local/internal/app/applinks/linkapi"
)

func createReq(strategy string) linkapi.CreateLinkRequest {
	return linkapi.CreateLinkRequest{
		Domain: "Example.com",
		Link: linkapi.LinkData{
			Title:               "Spring promo",
			OriginalURL:         "https://example.com/promo/spring",
			DeepLinkPath:        "/promo/spring",
			AliasPathAttributes: &linkapi.AliasPathAttributes{Type: strategy},
		},
	}
}

func TestCreate_AliasStrategies(t *testing.T) {
	svc := New()

	long, err := svc.Create(createReq("UNGUESSABLE"))
	if err != nil {
		t.Fatalf("Create UNGUESSABLE: %v", err)
	}
	if len(long.AliasPath) != unguessableLen {
		t.Fatalf("unguessable alias length: got %d, want %d", len(long.AliasPath), unguessableLen)
	}
	if long.Domain != "example.com" || long.FullURL != "https://example.com/"+long.AliasPath {
		t.Fatalf("link: got %+v", long)
	}

	a, err := svc.Create(createReq("SHORT"))
	if err != nil {
		t.Fatalf("Create SHORT: %v", err)
	}
	b, _ := svc.Create(createReq("SHORT"))
	if len(a.AliasPath) < 4 || len(a.AliasPath) > 8 {
		t.Fatalf("short alias: got %q", a.AliasPath)
	}
	if a.AliasPath == b.AliasPath {
		t.Fatalf("short aliases collide: %q", a.AliasPath)
	}
	if got := getSqids().Decode(a.AliasPath); len(got) != 1 || got[0] != 1 {
		t.Fatalf("short alias decode: got %v, want [1]", got)
	}
}

func TestCreate_RejectsInvalidRequests(t *testing.T) {
	svc := New()
	cases := map[string]func(*linkapi.CreateLinkRequest){
		"no domain":  func(r *linkapi.CreateLinkRequest) { r.Domain = "" },
		"no title":   func(r *linkapi.CreateLinkRequest) { r.Link.Title = " " },
		"no target":  func(r *linkapi.CreateLinkRequest) { r.Link.OriginalURL = "" },
		"ftp target": func(r *linkapi.CreateLinkRequest) { r.Link.OriginalURL = "ftp://example.com/x" },
		"bad type":   func(r *linkapi.CreateLinkRequest) { r.Link.AliasPathAttributes.Type = "LONG" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := createReq("SHORT")
			mutate(&req)
			if _, err := svc.Create(req); !errors.Is(err, ErrInvalid) {
				t.Fatalf("err: got %v, want ErrInvalid", err)
			}
		})
	}
}

func TestRetrieve_RecordsVisit(t *testing.T) {
	svc := New()
	link := svc.Seed(linkapi.Link{Domain: "example.com", AliasPath: "promo", Title: "Promo", DeepLinkPath: "product/1"})

	got, err := svc.Retrieve("https://EXAMPLE.com/promo?utm=x", ClientInfo{IP: "10.0.0.1", UserAgent: "test"})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if got.ID != link.ID || got.VisitID == "" {
		t.Fatalf("retrieved: got %+v", got)
	}

	v, err := svc.Visit(got.VisitID)
	if err != nil {
		t.Fatalf("Visit: %v", err)
	}
	if v.Link == nil || v.Link.DeepLinkPath != "product/1" || v.IPAddress != "10.0.0.1" {
		t.Fatalf("visit: got %+v", v)
	}
	if v.Link.VisitID != "" {
		t.Fatalf("embedded link should not carry a visit id, got %q", v.Link.VisitID)
	}

	if _, err := svc.Retrieve("https://example.com/missing", ClientInfo{}); !errors.Is(err, ErrLinkNotFound) {
		t.Fatalf("missing: got %v, want ErrLinkNotFound", err)
	}
	if _, err := svc.Retrieve("not a url", ClientInfo{}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("relative: got %v, want ErrInvalid", err)
	}
}

func TestVisit_ExpiresAfterTTL(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc := New(WithClock(func() time.Time { return now }), WithVisitTTL(time.Hour))
	svc.Seed(linkapi.Link{Domain: "example.com", AliasPath: "a"})

	v, err := svc.RecordVisit("example.com", "a", ClientInfo{})
	if err != nil {
		t.Fatalf("RecordVisit: %v", err)
	}
	now = now.Add(2 * time.Hour)
	if _, err := svc.Visit(v.ID); !errors.Is(err, ErrVisitNotFound) {
		t.Fatalf("expired visit: got %v, want ErrVisitNotFound", err)
	}
}

func TestSeed_FillsDefaults(t *testing.T) {
	svc := New()
	l := svc.Seed(linkapi.Link{Domain: "Example.com", VisitID: "stale"})
	if l.AliasPath == "" || l.ID == "" || l.CreatedAt.IsZero() || l.VisitID != "" {
		t.Fatalf("seeded: got %+v", l)
	}
	if !strings.HasPrefix(l.FullURL, "https://example.com/") {
		t.Fatalf("full url: got %q", l.FullURL)
	}
}
