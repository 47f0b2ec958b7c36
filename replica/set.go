package replica

import (
	"context"
	"fmt"
	"sync"
)

// HealthObserver receives every health transition of every pool in a Set.
type HealthObserver func(HealthEvent)

// Set is the registry of pools. Registration order is preserved and is the
// final tie-break when routing.
type Set struct {
	pools   []*Pool
	byName  map[string]*Pool
	primary *Pool

	mu      sync.Mutex
	cancel  context.CancelFunc
	running sync.WaitGroup
}

// NewSet registers pools in order. Exactly one pool must be primary and
// names must be unique.
func NewSet(pools ...*Pool) (*Set, error) {
	s := &Set{byName: make(map[string]*Pool, len(pools))}
	for _, p := range pools {
		if p == nil {
			continue
		}
		if _, dup := s.byName[p.Name()]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicatePool, p.Name())
		}
		if p.IsPrimary() {
			if s.primary != nil {
				return nil, fmt.Errorf("%w: both %s and %s are primary", ErrNoPrimary, s.primary.Name(), p.Name())
			}
			s.primary = p
		}
		s.byName[p.Name()] = p
		s.pools = append(s.pools, p)
	}
	if s.primary == nil {
		return nil, ErrNoPrimary
	}
	return s, nil
}

// Pools returns the pools in registration order.
func (s *Set) Pools() []*Pool {
	return append([]*Pool(nil), s.pools...)
}

func (s *Set) Primary() *Pool { return s.primary }

// Pool returns the pool called name or ErrUnknownPool.
func (s *Set) Pool(name string) (*Pool, error) {
	p, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPool, name)
	}
	return p, nil
}

// StatusAll returns a snapshot of every pool in registration order.
func (s *Set) StatusAll() []Status {
	out := make([]Status, 0, len(s.pools))
	for _, p := range s.pools {
		out = append(out, p.Status())
	}
	return out
}

// Observe registers fn on every pool.
func (s *Set) Observe(fn HealthObserver) {
	for _, p := range s.pools {
		p.Observe(fn)
	}
}

// Start launches one health probe loop per pool. Calling Start on a running
// Set is a no-op.
func (s *Set) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	for _, p := range s.pools {
		s.running.Add(1)
		go func(p *Pool) {
			defer s.running.Done()
			p.Run(ctx)
		}(p)
	}
}

// Stop ends the probe loops and waits for them to return.
func (s *Set) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.running.Wait()
}
