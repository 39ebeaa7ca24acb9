package deeplink

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParse_RejectsEmptyAndSchemeless(t *testing.T) {
	for _, raw := range []string{"", "   ", "catalog/42"} {
		if _, err := Parse(raw); !errors.Is(err, ErrValidation) {
			t.Fatalf("Parse(%q): got %v, want ErrValidation", raw, err)
		}
	}
}

func TestIdentifier_QueryParamsKeepOrder(t *testing.T) {
	id := MustParse("myapp://catalog/42?z=1&a=2&z=3&bad=%zz&=x&m=hello%20world")
	p := id.QueryParams()

	want := []string{"z", "a", "m"}
	got := p.Keys()
	if len(got) != len(want) {
		t.Fatalf("keys: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("keys: got %v, want %v", got, want)
		}
	}
	if v, _ := p.Get("z"); v != "1" {
		t.Fatalf("z: got %q, want first occurrence %q", v, "1")
	}
	if v, _ := p.Get("m"); v != "hello world" {
		t.Fatalf("m: got %q", v)
	}
}

func TestParams_MarshalJSONInInsertionOrder(t *testing.T) {
	var p Params
	p.Set("b", "2")
	p.Set("a", "1")
	p.Set("b", "3")

	b, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(b) != `{"b":"3","a":"1"}` {
		t.Fatalf("json: got %s", b)
	}
}

func TestKindOf(t *testing.T) {
	if got := KindOf(ErrExpiredLink); got != "expired_link" {
		t.Fatalf("KindOf: got %q", got)
	}
	if got := KindOf(errors.New("x")); got != "unknown" {
		t.Fatalf("KindOf: got %q", got)
	}
	if got := KindOf(nil); got != "" {
		t.Fatalf("KindOf(nil): got %q", got)
	}
}
