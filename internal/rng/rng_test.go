package rng

import "testing"

func TestSeededDeterministic(t *testing.T) {
	a := NewSeeded(42)
	b := NewSeeded(42)
	for i := 0; i < 10; i++ {
		if af, bf := a.Float64(), b.Float64(); af != bf {
			t.Fatalf("seeded sources diverged at draw %d: %v vs %v", i, af, bf)
		}
	}
}

func TestSeededDifferentSeeds(t *testing.T) {
	a := NewSeeded(1)
	b := NewSeeded(2)
	same := true
	for i := 0; i < 5; i++ {
		if a.Float64() != b.Float64() {
			same = false
		}
	}
	if same {
		t.Fatal("two different seeds produced identical streams")
	}
}

func TestScriptedReplaysThenHoldsLastValue(t *testing.T) {
	s := NewScripted(0.1, 0.9)
	if v := s.Float64(); v != 0.1 {
		t.Fatalf("first draw = %v, want 0.1", v)
	}
	if v := s.Float64(); v != 0.9 {
		t.Fatalf("second draw = %v, want 0.9", v)
	}
	if v := s.Float64(); v != 0.9 {
		t.Fatalf("draw past end = %v, want last scripted value 0.9", v)
	}
}

func TestScriptedIntNRange(t *testing.T) {
	s := NewScripted(0.0, 0.5, 0.999)
	if v := s.IntN(4); v != 0 {
		t.Fatalf("IntN(4) on 0.0 = %d, want 0", v)
	}
	if v := s.IntN(4); v != 2 {
		t.Fatalf("IntN(4) on 0.5 = %d, want 2", v)
	}
	if v := s.IntN(4); v != 3 {
		t.Fatalf("IntN(4) on 0.999 = %d, want 3", v)
	}
}

func TestScriptedIntNZero(t *testing.T) {
	s := NewScripted(0.5)
	if v := s.IntN(0); v != 0 {
		t.Fatalf("IntN(0) = %d, want 0", v)
	}
}
