package conflict

import (
	"context"
	"errors"
	"testing"
	"time"

	"mercator-hq/covenant/pkg/policy"
)

func TestNewScheduler(t *testing.T) {
	d := newDetector(t, &staticLister{})
	tests := []struct {
		name     string
		detector *Detector
		schedule string
		wantErr  bool
	}{
		{name: "every five minutes", detector: d, schedule: "*/5 * * * *"},
		{name: "descriptor", detector: d, schedule: "@every 30s"},
		{name: "invalid expression", detector: d, schedule: "every tuesday", wantErr: true},
		{name: "nil detector", schedule: "@hourly", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewScheduler(tt.detector, tt.schedule)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewScheduler() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestScheduler_RunsScans(t *testing.T) {
	d := newDetector(t, &staticLister{policies: []*policy.Policy{
		amountPolicy("a", policy.DomainOperations, policy.OpGreater, 10),
		amountPolicy("b", policy.DomainOperations, policy.OpLess, 5),
	}})
	s, err := NewScheduler(d, "@every 1s")
	if err != nil {
		t.Fatalf("NewScheduler() error = %v, want nil", err)
	}
	if s.NextRun() != nil {
		t.Error("NextRun() before Start = non-nil, want nil")
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v, want nil", err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}
	if next := s.NextRun(); next == nil || next.After(time.Now().Add(2*time.Second)) {
		t.Errorf("NextRun() = %v, want within the next second", next)
	}

	deadline := time.Now().Add(3 * time.Second)
	for len(d.AuditLog(0)) == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	s.Stop()
	if len(d.AuditLog(0)) == 0 {
		t.Error("scheduler never ran a scan")
	}
	if s.IsRunning() {
		t.Error("IsRunning() = true after Stop, want false")
	}
	s.Stop()
}
