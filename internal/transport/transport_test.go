package transport

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"sflnotify/internal/render"
	logx "sflnotify/pkg/logx"
)

type fakePresenter struct {
	name string
	errs []error // returned in order, then nil

	mu    sync.Mutex
	calls int
}

func (p *fakePresenter) Name() string { return p.name }

func (p *fakePresenter) Present(context.Context, Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(p.errs) == 0 {
		return nil
	}
	err := p.errs[0]
	p.errs = p.errs[1:]
	return err
}

func (p *fakePresenter) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func TestFanoutRetrySkipsSucceeded(t *testing.T) {
	t.Parallel()
	ok := &fakePresenter{name: "ok"}
	flaky := &fakePresenter{name: "flaky", errs: []error{errors.New("timeout")}}
	f := NewFanout(ok, nil, flaky)

	n := Notification{DeliveryID: "d1"}
	err := f.Present(context.Background(), n)
	if err == nil || !strings.Contains(err.Error(), "flaky: timeout") {
		t.Fatalf("first Present = %v", err)
	}
	if IsPermanent(err) {
		t.Fatal("transient failure reported as permanent")
	}
	if err := f.Present(context.Background(), n); err != nil {
		t.Fatalf("retry Present = %v", err)
	}
	if ok.Calls() != 1 || flaky.Calls() != 2 {
		t.Fatalf("calls ok=%d flaky=%d, want 1 and 2", ok.Calls(), flaky.Calls())
	}

	// Bookkeeping is cleared after full success.
	if err := f.Present(context.Background(), n); err != nil {
		t.Fatal(err)
	}
	if ok.Calls() != 2 {
		t.Fatalf("ok calls = %d, want 2 after bookkeeping reset", ok.Calls())
	}
}

func TestFanoutPermanent(t *testing.T) {
	t.Parallel()
	a := &fakePresenter{name: "a", errs: []error{Permanent(errors.New("chat not found"))}}
	b := &fakePresenter{name: "b", errs: []error{errors.New("reset")}}

	err := NewFanout(a).Present(context.Background(), Notification{DeliveryID: "x"})
	if !IsPermanent(err) {
		t.Fatalf("all-permanent failure: IsPermanent = false (%v)", err)
	}
	err = NewFanout(&fakePresenter{name: "a2", errs: []error{Permanent(errors.New("gone"))}}, b).
		Present(context.Background(), Notification{DeliveryID: "y"})
	if err == nil || IsPermanent(err) {
		t.Fatalf("mixed failure = %v, want transient", err)
	}
	for _, want := range []string{"a2: gone", "b: reset"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("mixed failure %q missing %q", err, want)
		}
	}
}

func TestFanoutMixedFailureRetriesTransient(t *testing.T) {
	t.Parallel()
	gone := Permanent(errors.New("chat not found"))
	tg := &fakePresenter{name: "telegram", errs: []error{gone, gone}}
	hub := &fakePresenter{name: "ws", errs: []error{errors.New("conn reset")}}
	f := NewFanout(tg, hub)
	n := Notification{DeliveryID: "d-mixed"}

	err := f.Present(context.Background(), n)
	if err == nil || IsPermanent(err) {
		t.Fatalf("first attempt = %v, want transient", err)
	}
	// The retry reaches both presenters again since neither succeeded.
	err = f.Present(context.Background(), n)
	if err == nil || !IsPermanent(err) {
		t.Fatalf("second attempt = %v, want permanent once only telegram fails", err)
	}
	if hub.Calls() != 2 {
		t.Fatalf("ws calls = %d, want 2", hub.Calls())
	}
}

func TestPermanentWrapping(t *testing.T) {
	t.Parallel()
	if Permanent(nil) != nil {
		t.Fatal("Permanent(nil) != nil")
	}
	base := errors.New("bad")
	p := Permanent(base)
	if !errors.Is(p, base) {
		t.Fatal("Permanent should unwrap to the cause")
	}
	if Permanent(p) != p {
		t.Fatal("Permanent should not double wrap")
	}
	if IsPermanent(base) {
		t.Fatal("plain error reported as permanent")
	}
}

func TestLogPresenter(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	p := NewLogPresenter(logx.NewWriter(&buf, "info"))
	n := Notification{
		DeliveryID: "d1",
		Payload:    render.Payload{Category: render.CategoryCooking},
		Rendered:   render.Rendered{ID: 7, Title: "Pizza is done cooking!", Body: "1 Pizza", Icon: "ic_pizza"},
	}
	if err := p.Present(context.Background(), n); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"Pizza is done cooking!", "cooking", "d1", "open_app"} {
		if !strings.Contains(out, want) {
			t.Fatalf("log output missing %q: %s", want, out)
		}
	}
}
