// Package turns bounds an agent run by a logical turn count rather than
// wall-clock time. One Limiter instance is constructed per run; there is
// no reset.
package turns

import "sync"

// Result reports the outcome of one Increment call.
type Result struct {
	// CanContinue is false once the run has consumed its turn ceiling.
	CanContinue bool
	// Warning is true on the single call that crosses the warning threshold.
	Warning bool
}

// Limiter counts turns against a ceiling with a one-shot warning callback
// fired at floor(max*threshold) and a one-shot limit callback fired when
// the count reaches the ceiling. Safe for concurrent use.
type Limiter struct {
	mu             sync.Mutex
	max            int
	warnAt         int
	count          int
	warned         bool
	limited        bool
	onWarning      func(count, max int)
	onLimitReached func(count, max int)
}

// NewLimiter builds a per-run limiter. threshold is a fraction of max
// (0.8 means warn at 80% of the ceiling); callbacks may be nil. maxTurns
// <= 0 disables the ceiling entirely.
func NewLimiter(maxTurns int, threshold float64, onWarning, onLimitReached func(count, max int)) *Limiter {
	warnAt := 0
	if maxTurns > 0 && threshold > 0 {
		warnAt = int(float64(maxTurns) * threshold)
	}
	return &Limiter{
		max:            maxTurns,
		warnAt:         warnAt,
		onWarning:      onWarning,
		onLimitReached: onLimitReached,
	}
}

// Increment records one turn and reports whether the run may continue.
// The warning fires exactly once, on the call where the count equals the
// warning threshold; the limit callback fires exactly once, on the first
// call where the count reaches the ceiling.
func (l *Limiter) Increment() Result {
	l.mu.Lock()
	l.count++
	count := l.count

	var fireWarn, fireLimit bool
	if l.warnAt > 0 && !l.warned && count == l.warnAt {
		l.warned = true
		fireWarn = true
	}
	if l.max > 0 && !l.limited && count >= l.max {
		l.limited = true
		fireLimit = true
	}
	canContinue := l.max <= 0 || count < l.max
	l.mu.Unlock()

	if fireWarn && l.onWarning != nil {
		l.onWarning(count, l.max)
	}
	if fireLimit && l.onLimitReached != nil {
		l.onLimitReached(count, l.max)
	}
	return Result{CanContinue: canContinue, Warning: fireWarn}
}

// Count returns the number of turns recorded so far.
func (l *Limiter) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Max returns the configured turn ceiling (0 means unbounded).
func (l *Limiter) Max() int {
	return l.max
}
