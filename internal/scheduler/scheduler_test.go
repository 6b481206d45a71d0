package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestOrderHonorsDependencies(t *testing.T) {
	r := NewRegistrar()
	var got []string
	record := func(name string) Execute {
		return func(context.Context) error {
			got = append(got, name)
			return nil
		}
	}

	if err := r.Register(Delegate{Name: "c", DependsOn: []string{"b"}, Execute: record("c")}); err != nil {
		t.Fatalf("register c: %v", err)
	}
	if err := r.Register(Delegate{Name: "b", DependsOn: []string{"a"}, Execute: record("b")}); err != nil {
		t.Fatalf("register b: %v", err)
	}
	if err := r.Register(Delegate{Name: "a", Execute: record("a")}); err != nil {
		t.Fatalf("register a: %v", err)
	}

	ordered, err := r.Order()
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	if len(ordered) != 3 || ordered[0].Name != "a" || ordered[1].Name != "b" || ordered[2].Name != "c" {
		t.Fatalf("unexpected order: %v", ordered)
	}
}

func TestOrderBreaksTiesByPriorityThenName(t *testing.T) {
	r := NewRegistrar()
	noop := func(context.Context) error { return nil }
	_ = r.Register(Delegate{Name: "low", Priority: 1, Execute: noop})
	_ = r.Register(Delegate{Name: "high", Priority: 10, Execute: noop})
	_ = r.Register(Delegate{Name: "also-low", Priority: 1, Execute: noop})

	ordered, err := r.Order()
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	if ordered[0].Name != "high" {
		t.Fatalf("expected highest priority first, got %v", ordered)
	}
	if ordered[1].Name != "also-low" || ordered[2].Name != "low" {
		t.Fatalf("expected alphabetic tie-break, got %v", ordered)
	}
}

func TestOrderDetectsCycle(t *testing.T) {
	r := NewRegistrar()
	noop := func(context.Context) error { return nil }
	_ = r.Register(Delegate{Name: "x", DependsOn: []string{"y"}, Execute: noop})
	_ = r.Register(Delegate{Name: "y", DependsOn: []string{"x"}, Execute: noop})

	if _, err := r.Order(); err == nil {
		t.Fatalf("expected a cyclic dependency error")
	}
}

func TestOrderRejectsUnknownDependency(t *testing.T) {
	r := NewRegistrar()
	_ = r.Register(Delegate{Name: "x", DependsOn: []string{"missing"}, Execute: func(context.Context) error { return nil }})

	if _, err := r.Order(); err == nil {
		t.Fatalf("expected an unknown dependency error")
	}
}

func TestRegisterRejectsDuplicateName(t *testing.T) {
	r := NewRegistrar()
	noop := func(context.Context) error { return nil }
	if err := r.Register(Delegate{Name: "a", Execute: noop}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register(Delegate{Name: "a", Execute: noop}); !errors.Is(err, ErrDuplicateDelegate) {
		t.Fatalf("expected ErrDuplicateDelegate, got %v", err)
	}
}

func TestCycleRunsEveryDelegateAndReturnsFirstError(t *testing.T) {
	r := NewRegistrar()
	var ran []string
	failing := func(context.Context) error { ran = append(ran, "fails"); return context.DeadlineExceeded }
	ok := func(context.Context) error { ran = append(ran, "ok"); return nil }

	_ = r.Register(Delegate{Name: "fails", Priority: 5, Execute: failing})
	_ = r.Register(Delegate{Name: "ok", Priority: 1, Execute: ok})

	svc := NewTaskService(r, time.Second, nil)
	if err := svc.Cycle(context.Background()); err != context.DeadlineExceeded {
		t.Fatalf("expected the failing delegate's error, got %v", err)
	}
	if len(ran) != 2 {
		t.Fatalf("expected both delegates to run despite the first failing, got %v", ran)
	}
}

func TestRunStopsWhenContextCanceled(t *testing.T) {
	r := NewRegistrar()
	svc := NewTaskService(r, time.Millisecond, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	if err := svc.Run(ctx); err != context.DeadlineExceeded {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
}
