package cache

import "time"

// Outcome is the result of one cache lookup as reported to a Recorder.
type Outcome string

const (
	OutcomeHit   Outcome = "hit"
	OutcomeStale Outcome = "stale"
	OutcomeMiss  Outcome = "miss"
	OutcomeError Outcome = "error"
)

// Recorder observes cache operations. It must not influence the result of
// the operation it records; the Manager recovers from a panicking Recorder.
type Recorder interface {
	Record(key string, strategy StrategyID, outcome Outcome, latency time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) Record(string, StrategyID, Outcome, time.Duration) {}
