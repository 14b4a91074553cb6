package turns

import "testing"

func TestLimiterThresholds(t *testing.T) {
	t.Parallel()

	var warns, limits int
	var warnAt, limitAt int
	l := NewLimiter(10, 0.8,
		func(count, max int) { warns++; warnAt = count },
		func(count, max int) { limits++; limitAt = count },
	)

	for i := 1; i <= 15; i++ {
		res := l.Increment()
		switch {
		case i < 8:
			if !res.CanContinue || res.Warning {
				t.Fatalf("turn %d: %+v", i, res)
			}
		case i == 8:
			if !res.CanContinue || !res.Warning {
				t.Fatalf("turn 8 should warn and continue: %+v", res)
			}
		case i == 9:
			if !res.CanContinue || res.Warning {
				t.Fatalf("turn 9: %+v", res)
			}
		default: // 10..15
			if res.CanContinue || res.Warning {
				t.Fatalf("turn %d should stop without warning: %+v", i, res)
			}
		}
	}

	if warns != 1 || warnAt != 8 {
		t.Fatalf("onWarning: fired %d times, at turn %d", warns, warnAt)
	}
	if limits != 1 || limitAt != 10 {
		t.Fatalf("onLimitReached: fired %d times, at turn %d", limits, limitAt)
	}
	if l.Count() != 15 {
		t.Fatalf("Count: %d", l.Count())
	}
}

func TestLimiterNilCallbacks(t *testing.T) {
	t.Parallel()
	l := NewLimiter(2, 0.5, nil, nil)
	if res := l.Increment(); !res.Warning || !res.CanContinue {
		t.Fatalf("turn 1: %+v", res)
	}
	if res := l.Increment(); res.CanContinue {
		t.Fatalf("turn 2: %+v", res)
	}
}

func TestLimiterUnbounded(t *testing.T) {
	t.Parallel()
	l := NewLimiter(0, 0.8, nil, nil)
	for i := 0; i < 100; i++ {
		if res := l.Increment(); !res.CanContinue || res.Warning {
			t.Fatalf("unbounded limiter stopped at %d: %+v", i, res)
		}
	}
}
