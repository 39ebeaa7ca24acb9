package deeplink

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// recordStage 记录执行顺序；claim 决定 CanHandle，apply 为 true 时写入 path。
type recordStage struct {
	name  string
	claim bool
	apply bool
	log   *[]string
}

func (s *recordStage) Name() string { return s.name }
func (s *recordStage) CanHandle(Identifier) bool { return s.claim }
func (s *recordStage) Run(ctx context.Context, rc *Context, id Identifier, next Next) (*Context, error) {
	*s.log = append(*s.log, s.name)
	if s.apply {
		rc.SetPath(s.name)
		rc.ResolvedParams.Set("by", s.name)
	}
	return next(ctx, rc)
}

type failStage struct{ err error }

func (f failStage) Name() string { return "fail" }
func (f failStage) CanHandle(Identifier) bool { return true }
func (f failStage) Run(ctx context.Context, rc *Context, id Identifier, next Next) (*Context, error) {
	rc.SetPath("partial")
	return nil, f.err
}

type panicStage struct{}

func (panicStage) Name() string { return "panic" }
func (panicStage) CanHandle(Identifier) bool { return true }
func (panicStage) Run(context.Context, *Context, Identifier, Next) (*Context, error) {
	panic("boom")
}

func TestPipeline_RunsStagesInRegistrationOrder(t *testing.T) {
	var log []string
	p := NewPipeline(nil)
	p.AddStage(&recordStage{name: "a", log: &log})
	p.AddStage(&recordStage{name: "b", claim: true, apply: true, log: &log})
	p.AddStage(&recordStage{name: "c", log: &log})

	for _, raw := range []string{"myapp://x", "https://example.com/y", "other://z"} {
		log = log[:0]
		res := p.Resolve(context.Background(), MustParse(raw), nil)
		if !res.Handled {
			t.Fatalf("%s: expected handled, got error %q", raw, res.Error)
		}
		if got := strings.Join(log, ","); got != "a,b,c" {
			t.Fatalf("%s: order got %q, want %q", raw, got, "a,b,c")
		}
	}
}

func TestPipeline_LastWriterWinsKeepsPosition(t *testing.T) {
	var log []string
	p := NewPipeline(nil)
	p.AddStage(&recordStage{name: "first", claim: true, apply: true, log: &log})
	p.AddStage(&recordStage{name: "second", apply: true, log: &log})

	res := p.Resolve(context.Background(), MustParse("myapp://x"), nil)
	if res.Path != "second" {
		t.Fatalf("path: got %q, want %q", res.Path, "second")
	}
	if v, _ := res.Params.Get("by"); v != "second" {
		t.Fatalf("param by: got %q, want %q", v, "second")
	}
	if res.Params.Len() != 1 {
		t.Fatalf("params len: got %d, want 1", res.Params.Len())
	}
}

func TestPipeline_NoHandler(t *testing.T) {
	var log []string
	p := NewPipeline(nil)
	p.AddStage(&recordStage{name: "a", log: &log})

	id := MustParse("unknown://thing")
	if p.CanResolve(id) {
		t.Fatal("CanResolve: got true, want false")
	}
	res := p.Resolve(context.Background(), id, nil)
	if res.Handled {
		t.Fatal("expected handled=false")
	}
	if !errors.Is(res.Cause(), ErrNoHandler) {
		t.Fatalf("cause: got %v, want ErrNoHandler", res.Cause())
	}
	if res.Error == "" {
		t.Fatal("expected error message")
	}
	if len(log) != 0 {
		t.Fatalf("stages should not run, ran %v", log)
	}
}

func TestPipeline_StageErrorAbortsWithoutLeakingState(t *testing.T) {
	var log []string
	p := NewPipeline(nil)
	p.AddStage(failStage{err: errors.New("stage exploded")})
	p.AddStage(&recordStage{name: "after", log: &log})

	initial := NewContext(true, time.Now())
	initial.SetMeta("seed", 1)
	res := p.Resolve(context.Background(), MustParse("myapp://x"), initial)

	if res.Handled {
		t.Fatal("expected handled=false")
	}
	if !strings.Contains(res.Error, "stage exploded") {
		t.Fatalf("error: got %q", res.Error)
	}
	if res.Path != "" || res.Params.Len() != 0 || len(res.Metadata) != 0 {
		t.Fatalf("partial state leaked: path=%q params=%d meta=%v", res.Path, res.Params.Len(), res.Metadata)
	}
	if len(log) != 0 {
		t.Fatalf("later stages should not run, ran %v", log)
	}
}

func TestPipeline_StagePanicIsRecovered(t *testing.T) {
	p := NewPipeline(nil)
	p.AddStage(panicStage{})

	res := p.Resolve(context.Background(), MustParse("myapp://x"), nil)
	if res.Handled {
		t.Fatal("expected handled=false")
	}
	if !strings.Contains(res.Error, "boom") {
		t.Fatalf("error: got %q", res.Error)
	}
}

func TestPipeline_ResultIsDetachedFromContext(t *testing.T) {
	var log []string
	p := NewPipeline(nil)
	p.AddStage(&recordStage{name: "a", claim: true, apply: true, log: &log})

	rc := NewContext(false, time.Now())
	res := p.Resolve(context.Background(), MustParse("myapp://x"), rc)
	rc.ResolvedParams.Set("later", "1")
	rc.SetMeta("later", 1)

	if _, ok := res.Params.Get("later"); ok {
		t.Fatal("result params share storage with context")
	}
	if _, ok := res.Metadata["later"]; ok {
		t.Fatal("result metadata shares storage with context")
	}
	if res.Rewritten == nil || res.Rewritten.String() != "myapp://x" {
		t.Fatalf("rewritten: got %v, want original", res.Rewritten)
	}
}

func TestPipeline_RemoveAndClear(t *testing.T) {
	var log []string
	p := NewPipeline(nil)
	p.AddStage(&recordStage{name: "a", claim: true, log: &log})
	p.AddStage(&recordStage{name: "b", claim: true, log: &log})

	if !p.RemoveStage("a") {
		t.Fatal("RemoveStage(a): got false")
	}
	if p.RemoveStage("missing") {
		t.Fatal("RemoveStage(missing): got true")
	}
	if got := len(p.Stages()); got != 1 {
		t.Fatalf("stages: got %d, want 1", got)
	}
	p.Clear()
	if p.CanResolve(MustParse("myapp://x")) {
		t.Fatal("CanResolve after Clear: got true")
	}
}

func TestTransform_PassesThroughWhenNotApplicable(t *testing.T) {
	applied := false
	st := Transform(fnTransformer{
		claim: func(id Identifier) bool { return id.Scheme() == "myapp" },
		apply: func(rc *Context) { applied = true; rc.SetPath("x") },
	})

	var downstream bool
	next := func(ctx context.Context, rc *Context) (*Context, error) {
		downstream = true
		return rc, nil
	}
	rc := NewContext(false, time.Now())
	out, err := st.Run(context.Background(), rc, MustParse("https://a.com"), next)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if applied || out.ResolvedPath != nil {
		t.Fatal("transform applied to non-claimed identifier")
	}
	if !downstream {
		t.Fatal("continuation not called")
	}
}

type fnTransformer struct {
	claim func(Identifier) bool
	apply func(*Context)
}

func (f fnTransformer) Name() string { return "fn" }
func (f fnTransformer) CanHandle(id Identifier) bool { return f.claim(id) }
func (f fnTransformer) Apply(_ context.Context, rc *Context, _ Identifier) (*Context, error) {
	f.apply(rc)
	return rc, nil
}
