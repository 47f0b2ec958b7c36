package cache

import (
	"fmt"
	"time"
)

// StrategyID names a freshness policy.
type StrategyID string

// Built-in strategy identifiers.
const (
	Hot      StrategyID = "hot"
	Warm     StrategyID = "warm"
	Cold     StrategyID = "cold"
	Realtime StrategyID = "realtime"
)

// Strategy is a freshness policy applied to every entry written under it.
type Strategy struct {
	ID StrategyID
	// TTL is how long an entry is served without a refresh.
	TTL time.Duration
	// StaleWhileRevalidate is the extra window during which the old value is
	// still served while a background refresh runs.
	StaleWhileRevalidate time.Duration
	// MaxRetries is how many times a failing fetch is retried.
	MaxRetries int
	// WarmupEnabled allows Warmup to preload keys of this strategy.
	WarmupEnabled bool
	// AnalyticsEnabled forwards this strategy's operations to the Recorder.
	AnalyticsEnabled bool
}

// Freshness is the state of an entry relative to its strategy.
type Freshness int

const (
	Fresh Freshness = iota
	Stale
	Expired
)

func (f Freshness) String() string {
	switch f {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	case Expired:
		return "expired"
	default:
		return fmt.Sprintf("Freshness(%d)", int(f))
	}
}

// StaleAt is createdAt + TTL.
func (s Strategy) StaleAt(createdAt time.Time) time.Time {
	return createdAt.Add(s.TTL)
}

// ExpiredAt is StaleAt + StaleWhileRevalidate.
func (s Strategy) ExpiredAt(createdAt time.Time) time.Time {
	return s.StaleAt(createdAt).Add(s.StaleWhileRevalidate)
}

// Window is the full lifetime of an entry and the TTL given to the backend.
func (s Strategy) Window() time.Duration {
	return s.TTL + s.StaleWhileRevalidate
}

// Freshness classifies an entry created at createdAt as observed at now.
func (s Strategy) Freshness(createdAt, now time.Time) Freshness {
	switch {
	case now.Before(s.StaleAt(createdAt)):
		return Fresh
	case now.Before(s.ExpiredAt(createdAt)):
		return Stale
	default:
		return Expired
	}
}

// Validate checks the policy values.
func (s Strategy) Validate() error {
	if s.ID == "" {
		return &ConfigError{Field: "Strategy.ID", Message: "cannot be empty"}
	}
	if s.TTL <= 0 {
		return &ConfigError{Field: "Strategy." + string(s.ID) + ".TTL", Message: "must be greater than 0"}
	}
	if s.StaleWhileRevalidate < 0 {
		return &ConfigError{Field: "Strategy." + string(s.ID) + ".StaleWhileRevalidate", Message: "must be non-negative"}
	}
	if s.MaxRetries < 0 {
		return &ConfigError{Field: "Strategy." + string(s.ID) + ".MaxRetries", Message: "must be non-negative"}
	}
	return nil
}

// StrategySet is the fixed set of policies a Manager knows about. It is
// built once and never mutated.
type StrategySet struct {
	byID  map[StrategyID]Strategy
	order []StrategyID
}

// NewStrategySet validates strategies and builds a set. IDs must be unique.
func NewStrategySet(strategies ...Strategy) (StrategySet, error) {
	set := StrategySet{byID: make(map[StrategyID]Strategy, len(strategies))}
	for _, s := range strategies {
		if err := s.Validate(); err != nil {
			return StrategySet{}, err
		}
		if _, dup := set.byID[s.ID]; dup {
			return StrategySet{}, &ConfigError{Field: "Strategy." + string(s.ID), Message: "defined more than once"}
		}
		set.byID[s.ID] = s
		set.order = append(set.order, s.ID)
	}
	if len(set.order) == 0 {
		return StrategySet{}, &ConfigError{Field: "Strategies", Message: "at least one strategy is required"}
	}
	return set, nil
}

// DefaultStrategies returns the built-in policies.
func DefaultStrategies() StrategySet {
	set, err := NewStrategySet(
		Strategy{ID: Hot, TTL: 300 * time.Second, StaleWhileRevalidate: 60 * time.Second, MaxRetries: 2, WarmupEnabled: true, AnalyticsEnabled: true},
		Strategy{ID: Warm, TTL: 15 * time.Minute, StaleWhileRevalidate: 5 * time.Minute, MaxRetries: 2, WarmupEnabled: true, AnalyticsEnabled: true},
		Strategy{ID: Cold, TTL: time.Hour, StaleWhileRevalidate: 15 * time.Minute, MaxRetries: 1, AnalyticsEnabled: true},
		Strategy{ID: Realtime, TTL: 30 * time.Second, StaleWhileRevalidate: 10 * time.Second, MaxRetries: 0, AnalyticsEnabled: true},
	)
	if err != nil {
		panic(err)
	}
	return set
}

// Lookup returns the strategy registered under id.
func (s StrategySet) Lookup(id StrategyID) (Strategy, bool) {
	st, ok := s.byID[id]
	return st, ok
}

// Get is Lookup returning ErrUnknownStrategy for unknown ids.
func (s StrategySet) Get(id StrategyID) (Strategy, error) {
	st, ok := s.byID[id]
	if !ok {
		return Strategy{}, fmt.Errorf("%w: %q", ErrUnknownStrategy, id)
	}
	return st, nil
}

// All returns the strategies in registration order.
func (s StrategySet) All() []Strategy {
	out := make([]Strategy, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// MaxWindow is the longest Window across the set.
func (s StrategySet) MaxWindow() time.Duration {
	var max time.Duration
	for _, st := range s.byID {
		if w := st.Window(); w > max {
			max = w
		}
	}
	return max
}
