package shortener

import (
	"context"
	"errors"
	"testing"
	"time"

	"applinks.local/internal/app/applinks/deeplink"
	"applinks.local/internal/app/applinks/linkapi"
)

type fakeCreator struct {
	got   []linkapi.CreateLinkRequest
	reply linkapi.Link
	err   error
}

func (f *fakeCreator) CreateLink(_ context.Context, req linkapi.CreateLinkRequest) (linkapi.Link, error) {
	f.got = append(f.got, req)
	return f.reply, f.err
}

func TestCreate_MissingRequiredFieldsFailBeforeNetwork(t *testing.T) {
	cases := []struct {
		name  string
		req   Request
		field string
	}{
		{"no target", Request{Domain: "example.com"}, "target_url"},
		{"no domain", Request{TargetURL: "https://example.com/a"}, "domain"},
		{"blank domain", Request{Domain: "   ", TargetURL: "https://example.com/a"}, "domain"},
		{"bad strategy", Request{Domain: "example.com", TargetURL: "https://example.com/a", Strategy: "LONG"}, "strategy"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			fc := &fakeCreator{}
			_, err := New(fc).Create(context.Background(), c.req)
			if !errors.Is(err, deeplink.ErrValidation) {
				t.Fatalf("err: got %v, want ErrValidation", err)
			}
			var verr *ValidationError
			if !errors.As(err, &verr) || verr.Field != c.field {
				t.Fatalf("field: got %+v, want %s", verr, c.field)
			}
			if len(fc.got) != 0 {
				t.Fatalf("network calls: got %d, want 0", len(fc.got))
			}
		})
	}
}

func TestCreate_PastExpiryRejected(t *testing.T) {
	fc := &fakeCreator{}
	past := time.Now().Add(-time.Hour)
	_, err := New(fc).Create(context.Background(), Request{
		Domain: "example.com", TargetURL: "https://example.com/a", ExpiresAt: &past,
	})
	if !errors.Is(err, deeplink.ErrValidation) || len(fc.got) != 0 {
		t.Fatalf("err: got %v, calls %d", err, len(fc.got))
	}
}

func TestCreate_AppliesDefaultsAndMapsResult(t *testing.T) {
	fc := &fakeCreator{reply: linkapi.Link{
		ID: "lnk_9", FullURL: "https://example.com/Ab3x", AliasPath: "Ab3x", Domain: "example.com",
	}}

	res, err := New(fc).Create(context.Background(), Request{
		Domain:    "example.com",
		TargetURL: " https://example.com/promo/spring ",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if res.FullURL != "https://example.com/Ab3x" || res.ID != "lnk_9" || res.AliasPath != "Ab3x" {
		t.Fatalf("result: got %+v", res)
	}

	if len(fc.got) != 1 {
		t.Fatalf("calls: got %d", len(fc.got))
	}
	wire := fc.got[0]
	if wire.Link.Title != "https://example.com/promo/spring" {
		t.Fatalf("title default: got %q", wire.Link.Title)
	}
	if wire.Link.DeepLinkPath != "/promo/spring" {
		t.Fatalf("path default: got %q", wire.Link.DeepLinkPath)
	}
	if wire.Link.AliasPathAttributes == nil || wire.Link.AliasPathAttributes.Type != "UNGUESSABLE" {
		t.Fatalf("strategy default: got %+v", wire.Link.AliasPathAttributes)
	}
}

func TestCreate_PropagatesServiceErrors(t *testing.T) {
	fc := &fakeCreator{err: &linkapi.APIError{Kind: deeplink.ErrAuth, Status: 401, Message: "Unauthorized: Invalid or missing API token"}}
	_, err := New(fc).Create(context.Background(), Request{
		Domain: "example.com", TargetURL: "https://example.com/", Strategy: Short,
	})
	if !errors.Is(err, deeplink.ErrAuth) {
		t.Fatalf("err: got %v, want ErrAuth", err)
	}
	if fc.got[0].Link.AliasPathAttributes.Type != "SHORT" {
		t.Fatalf("strategy: got %s", fc.got[0].Link.AliasPathAttributes.Type)
	}
}
