package wayback

import "time"

// The save endpoint accepts a capture request and completes it
// asynchronously.  After a settle delay, the availability API is polled a
// bounded number of times.  `pollPlan` is the pure decision part of that
// loop, so the timing logic can be tested without real delays.
const (
	settleDelay  = 15 * time.Second
	pollDelay    = 5 * time.Second
	pollAttempts = 5
)

type pollResult int

const (
	pollPending pollResult = iota
	pollFound
	pollError
)

type pollAction int

const (
	pollRetry pollAction = iota
	pollDone
	pollGiveUp
)

type pollPlan struct {
	MaxAttempts int
	Delay       time.Duration
}

func defaultPollPlan() pollPlan {
	return pollPlan{MaxAttempts: pollAttempts, Delay: pollDelay}
}

// `next()` maps (attempt number, last result) to the next action.  Attempts
// are 1-based.  A transient availability error counts as a spent attempt;
// the caller falls back to an existing snapshot after `pollGiveUp`.
func (p pollPlan) next(attempt int, res pollResult) (pollAction, time.Duration) {
	if res == pollFound {
		return pollDone, 0
	}
	if attempt >= p.MaxAttempts {
		return pollGiveUp, 0
	}
	return pollRetry, p.Delay
}
