package phase

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestNewMachine(t *testing.T) {
	m := NewMachine()
	if m.Current() != Initializing {
		t.Errorf("Current(): ожидалось %q, получено %q", Initializing, m.Current())
	}
	if len(m.History()) != 0 {
		t.Errorf("History(): ожидалась пустая история, получено %d записей", len(m.History()))
	}
}

func TestIsLoading(t *testing.T) {
	tests := []struct {
		phase Phase
		want  bool
	}{
		{Initializing, true},
		{ResolvingProfile, true},
		{Unauthenticated, false},
		{Ready, false},
		{Degraded, false},
	}
	for _, tt := range tests {
		if got := tt.phase.IsLoading(); got != tt.want {
			t.Errorf("%s.IsLoading() = %v, ожидалось %v", tt.phase, got, tt.want)
		}
	}
}

func TestTransitions_Matrix(t *testing.T) {
	tests := []struct {
		path []Phase
		ok   bool
	}{
		{[]Phase{Unauthenticated}, true},
		{[]Phase{ResolvingProfile, Ready}, true},
		{[]Phase{ResolvingProfile, Degraded, ResolvingProfile, Ready}, true},
		{[]Phase{ResolvingProfile, Ready, Unauthenticated}, true},
		{[]Phase{ResolvingProfile, ResolvingProfile}, true},
		{[]Phase{Unauthenticated, Unauthenticated}, true},
		{[]Phase{Ready}, false},
		{[]Phase{Degraded}, false},
		{[]Phase{Unauthenticated, Ready}, false},
		{[]Phase{ResolvingProfile, Ready, Degraded}, false},
		{[]Phase{ResolvingProfile, Ready, Initializing}, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.path), func(t *testing.T) {
			m := NewMachine()
			var err error
			for _, p := range tt.path {
				if err = m.TransitionTo(p, "test"); err != nil {
					break
				}
			}
			if tt.ok && err != nil {
				t.Fatalf("неожиданная ошибка: %v", err)
			}
			if !tt.ok {
				var te *TransitionError
				if !errors.As(err, &te) {
					t.Fatalf("ожидалась TransitionError, получено %v", err)
				}
				if te.Code != "INVALID_TRANSITION" {
					t.Errorf("ожидался код INVALID_TRANSITION, получен %q", te.Code)
				}
			}
		})
	}
}

func TestTransitionTo_UnknownPhase(t *testing.T) {
	m := NewMachine()
	err := m.TransitionTo(Phase("guest"), "test")

	var te *TransitionError
	if !errors.As(err, &te) || te.Code != "INVALID_PHASE" {
		t.Fatalf("ожидалась ошибка INVALID_PHASE, получено %v", err)
	}
	if m.Current() != Initializing {
		t.Errorf("фаза не должна измениться, получено %q", m.Current())
	}
}

func TestHistory_Bounded(t *testing.T) {
	m := NewMachine()
	if err := m.TransitionTo(Unauthenticated, "mount"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < historyLimit*2; i++ {
		if err := m.TransitionTo(ResolvingProfile, "event"); err != nil {
			t.Fatal(err)
		}
		if err := m.TransitionTo(Unauthenticated, "signout"); err != nil {
			t.Fatal(err)
		}
	}

	h := m.History()
	if len(h) != historyLimit {
		t.Fatalf("ожидалось %d записей, получено %d", historyLimit, len(h))
	}
	last := h[len(h)-1]
	if last.From != ResolvingProfile || last.To != Unauthenticated || last.Reason != "signout" {
		t.Errorf("последняя запись: %+v", last)
	}
}

func TestMachine_ConcurrentReads(t *testing.T) {
	m := NewMachine()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Current()
			_ = m.History()
		}()
	}
	_ = m.TransitionTo(ResolvingProfile, "mount")
	wg.Wait()
}
