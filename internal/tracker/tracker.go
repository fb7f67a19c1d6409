// Package tracker holds the conversion state shared between the scanner,
// the workers and status consumers: per-owner path sets, per-path page
// progress, failure messages, and completion events.
package tracker

import (
	"context"
	"sort"
	"sync"

	"github.com/local/djvupdf/internal/metrics"
)

// State is the lifecycle position of a tracked path.
type State int

const (
	Untracked State = iota
	Queued
	Pending
	Active
	Failed
)

func (s State) String() string {
	switch s {
	case Queued:
		return "queued"
	case Pending:
		return "pending"
	case Active:
		return "active"
	case Failed:
		return "failed"
	default:
		return "untracked"
	}
}

// Event signals that a conversion of one of the owner's files reached a
// terminal state. Events for the same owner are coalesced while a
// subscriber is busy.
type Event struct {
	Owner string
}

type ownerState struct {
	paths    map[string]State
	failures map[string]string
}

type counter struct {
	done, total int
}

// Tracker is safe for concurrent use.
type Tracker struct {
	mu     sync.Mutex
	owners map[string]*ownerState

	progMu   sync.Mutex
	progress map[string]counter

	subMu sync.Mutex
	subs  map[*subscription]struct{}
}

// New returns an empty tracker.
func New() *Tracker {
	return &Tracker{
		owners:   map[string]*ownerState{},
		progress: map[string]counter{},
		subs:     map[*subscription]struct{}{},
	}
}

func (t *Tracker) owner(id string) *ownerState {
	o, ok := t.owners[id]
	if !ok {
		o = &ownerState{paths: map[string]State{}, failures: map[string]string{}}
		t.owners[id] = o
	}
	return o
}

// Enqueue records path as queued for owner. It returns false when the path
// is already queued, pending, active or failed.
func (t *Tracker) Enqueue(owner, path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	o := t.owner(owner)
	if _, ok := o.paths[path]; ok {
		return false
	}
	o.paths[path] = Queued
	t.publishDepthLocked()
	return true
}

// State returns the state of path for owner.
func (t *Tracker) State(owner, path string) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if o, ok := t.owners[owner]; ok {
		return o.paths[path]
	}
	return Untracked
}

// Transition moves a tracked path to Pending or Active. It returns false when
// the path is no longer tracked, e.g. after ClearOwner.
func (t *Tracker) Transition(owner, path string, to State) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.owners[owner]
	if !ok {
		return false
	}
	from, ok := o.paths[path]
	if !ok || from == Failed {
		return false
	}
	o.paths[path] = to
	t.publishDepthLocked()
	return true
}

// Finish ends tracking of path. A nil err drops the path; otherwise a tracked
// path stays in the failed set with message until cleared. Progress counters are
// removed and a completion event is published either way.
func (t *Tracker) Finish(owner, path string, err error) {
	t.mu.Lock()
	if o, ok := t.owners[owner]; ok {
		if _, tracked := o.paths[path]; err != nil && tracked {
			o.paths[path] = Failed
			o.failures[path] = err.Error()
		} else {
			delete(o.paths, path)
			delete(o.failures, path)
		}
		t.publishDepthLocked()
	}
	t.mu.Unlock()

	t.ClearProgress(path)
	t.publish(owner)
}

// ClearFailure forgets a failed path, e.g. once its destination shows up.
func (t *Tracker) ClearFailure(owner, path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.owners[owner]
	if !ok || o.paths[path] != Failed {
		return false
	}
	delete(o.paths, path)
	delete(o.failures, path)
	t.publishDepthLocked()
	return true
}

// ClearOwner drops everything tracked for owner.
func (t *Tracker) ClearOwner(owner string) {
	t.mu.Lock()
	o, ok := t.owners[owner]
	delete(t.owners, owner)
	t.publishDepthLocked()
	t.mu.Unlock()
	if !ok {
		return
	}
	for p := range o.paths {
		t.ClearProgress(p)
	}
}

// Paths returns the sorted paths of owner in state s.
func (t *Tracker) Paths(owner string, s State) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.owners[owner]
	if !ok {
		return nil
	}
	var out []string
	for p, st := range o.paths {
		if st == s {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// Failure returns the first failed path of owner, in path order, and its
// message.
func (t *Tracker) Failure(owner string) (path, message string, ok bool) {
	failed := t.Paths(owner, Failed)
	if len(failed) == 0 {
		return "", "", false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	o, exists := t.owners[owner]
	if !exists {
		return "", "", false
	}
	return failed[0], o.failures[failed[0]], true
}

// Owners returns the sorted ids of owners with tracked paths.
func (t *Tracker) Owners() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.owners))
	for id, o := range t.owners {
		if len(o.paths) > 0 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (t *Tracker) publishDepthLocked() {
	counts := map[State]int{Queued: 0, Pending: 0, Active: 0, Failed: 0}
	for _, o := range t.owners {
		for _, s := range o.paths {
			counts[s]++
		}
	}
	for s, n := range counts {
		metrics.SetQueueDepth(s.String(), n)
	}
}

// SetProgress records done of total pages for path.
func (t *Tracker) SetProgress(path string, done, total int) {
	t.progMu.Lock()
	t.progress[path] = counter{done: done, total: total}
	t.progMu.Unlock()
}

// Progress returns the page counters of path.
func (t *Tracker) Progress(path string) (done, total int, ok bool) {
	t.progMu.Lock()
	defer t.progMu.Unlock()
	c, ok := t.progress[path]
	return c.done, c.total, ok
}

// ClearProgress drops the page counters of path.
func (t *Tracker) ClearProgress(path string) {
	t.progMu.Lock()
	delete(t.progress, path)
	t.progMu.Unlock()
}

type subscription struct {
	mu      sync.Mutex
	pending map[string]struct{}
	wake    chan struct{}
}

// Subscribe returns a channel of completion events. Events for an owner that
// arrive while the subscriber lags are merged into one. The channel is
// closed when ctx is done.
func (t *Tracker) Subscribe(ctx context.Context) <-chan Event {
	s := &subscription{pending: map[string]struct{}{}, wake: make(chan struct{}, 1)}
	out := make(chan Event)

	t.subMu.Lock()
	t.subs[s] = struct{}{}
	t.subMu.Unlock()

	go func() {
		defer close(out)
		defer func() {
			t.subMu.Lock()
			delete(t.subs, s)
			t.subMu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
			}
			for _, owner := range s.drain() {
				select {
				case out <- Event{Owner: owner}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func (s *subscription) drain() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	owners := make([]string, 0, len(s.pending))
	for o := range s.pending {
		owners = append(owners, o)
	}
	sort.Strings(owners)
	s.pending = map[string]struct{}{}
	return owners
}

func (t *Tracker) publish(owner string) {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	for s := range t.subs {
		s.mu.Lock()
		s.pending[owner] = struct{}{}
		s.mu.Unlock()
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
}
