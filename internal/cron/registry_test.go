package cron

import (
	"context"
	"strings"
	"testing"
)

type stubJob struct {
	name string
}

func (s *stubJob) Name() string              { return s.name }
func (s *stubJob) Run(context.Context) error { return nil }

func TestRegistryRunsInRegistrationOrder(t *testing.T) {
	resync := &stubJob{name: "subscription-resync"}
	expiry := &stubJob{name: "checkout-expiry"}
	registry := NewRegistry(resync, nil, expiry)

	jobs := registry.Jobs()
	if len(jobs) != 2 || jobs[0] != resync || jobs[1] != expiry {
		t.Fatalf("unexpected jobs %v", jobs)
	}
	jobs[0] = nil
	if registry.Jobs()[0] == nil {
		t.Fatalf("Jobs must return a copy")
	}
	if got := strings.Join(registry.Names(), ","); got != "checkout-expiry,subscription-resync" {
		t.Fatalf("unexpected names %s", got)
	}
}

func TestRegistryRegisterErrors(t *testing.T) {
	registry := NewRegistry(&stubJob{name: "outbox-retention"})
	for _, job := range []Job{nil, &stubJob{}, &stubJob{name: "outbox-retention"}} {
		if err := registry.Register(job); err == nil {
			t.Fatalf("expected %v to be rejected", job)
		}
	}
}

func TestNewRegistryPanicsOnDuplicateNames(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	NewRegistry(&stubJob{name: "checkout-expiry"}, &stubJob{name: "checkout-expiry"})
}
