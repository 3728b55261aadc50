/**
* Copyright 2018 Comcast Cable Communications Management, LLC
* Licensed under the Apache License, Version 2.0 (the "License");
* you may not use this file except in compliance with the License.
* You may obtain a copy of the License at
* http://www.apache.org/licenses/LICENSE-2.0
* Unless required by applicable law or agreed to in writing, software
* distributed under the License is distributed on an "AS IS" BASIS,
* WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
* See the License for the specific language governing permissions and
* limitations under the License.
 */

// Package coalesce implements the per-key Coalescer (§4.8): at most one
// foreground origin fetch and one background revalidation in flight per
// CacheKey, with Leader/Follower semantics for the foreground path.
package coalesce

import (
	"context"
	"sync"
)

// Outcome is the result a Leader publishes and every Follower receives.
type Outcome struct {
	Value interface{}
	Err   error
}

// slot is the CoalescerSlot: the synchronization primitive shared by a
// leader and its followers for one key's in-flight foreground fetch.
type slot struct {
	mu       sync.Mutex
	refcount int
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	outcome  Outcome
}

// Group coordinates coalescing across keys. The zero value is not usable;
// construct with NewGroup.
type Group struct {
	mu         sync.Mutex
	slots      map[string]*slot
	background map[string]struct{}
}

// NewGroup constructs an empty Group.
func NewGroup() *Group {
	return &Group{
		slots:      make(map[string]*slot),
		background: make(map[string]struct{}),
	}
}

// Leader is the capability returned to the caller that originates a
// foreground fetch for a key.
type Leader struct {
	g   *Group
	key string
	s   *slot
}

// Follower is returned to every caller that arrives while a foreground
// fetch for the key is already in flight.
type Follower struct {
	s *slot
}

// BeginOrigin implements begin_origin. If the key's slot is idle the
// caller becomes the Leader (non-nil leader, nil follower); otherwise it
// becomes a Follower of the in-flight leader (nil leader, non-nil
// follower). callerCtx is watched so that if every participant holding
// this slot disappears (client disconnects, follower contexts all
// cancelled) the leader's own context is cancelled and the origin fetch
// can be aborted; as long as at least one participant remains, the slot's
// context stays live.
func (g *Group) BeginOrigin(callerCtx context.Context, key string) (*Leader, *Follower) {
	g.mu.Lock()
	s, exists := g.slots[key]
	if !exists {
		sctx, cancel := context.WithCancel(context.Background())
		s = &slot{ctx: sctx, cancel: cancel, done: make(chan struct{})}
		g.slots[key] = s
	}
	s.mu.Lock()
	s.refcount++
	s.mu.Unlock()
	g.mu.Unlock()

	go watchDeparture(callerCtx, s)

	if !exists {
		return &Leader{g: g, key: key, s: s}, nil
	}
	return nil, &Follower{s: s}
}

// watchDeparture decrements the slot's refcount when callerCtx ends (or
// the slot completes, whichever is first) and cancels the slot's context
// once the last participant has gone.
func watchDeparture(callerCtx context.Context, s *slot) {
	select {
	case <-s.done:
		return
	case <-callerCtx.Done():
	}
	s.mu.Lock()
	s.refcount--
	remaining := s.refcount
	s.mu.Unlock()
	if remaining <= 0 {
		s.cancel()
	}
}

// Context returns the context the leader's origin fetch should run under.
func (l *Leader) Context() context.Context { return l.s.ctx }

// Publish records the outcome, wakes every waiting follower, and removes
// the slot so the next request for this key starts a fresh one.
func (l *Leader) Publish(o Outcome) {
	l.g.mu.Lock()
	if l.g.slots[l.key] == l.s {
		delete(l.g.slots, l.key)
	}
	l.g.mu.Unlock()
	l.s.outcome = o
	close(l.s.done)
}

// Wait blocks until the leader publishes an outcome or ctx is done,
// whichever happens first. The Engine passes the inbound request's own
// context; the leader publishes once its origin fetch returns, and that
// fetch is bounded by the upstream client's total timeout.
func (f *Follower) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-f.s.done:
		return f.s.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// BeginBackground implements begin_background for stale-while-revalidate.
// It returns start=true when the caller should perform the background
// refresh now; if one is already in flight for key it is a no-op and
// returns start=false. The caller must invoke the returned done func
// exactly once, when the refresh completes.
func (g *Group) BeginBackground(key string) (start bool, done func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, inFlight := g.background[key]; inFlight {
		return false, nil
	}
	g.background[key] = struct{}{}
	return true, func() {
		g.mu.Lock()
		delete(g.background, key)
		g.mu.Unlock()
	}
}
