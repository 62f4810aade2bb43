package download

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrDuplicateIndex is returned by Publish when an index was already published.
var ErrDuplicateIndex = errors.New("download: segment index published twice")

// State maps segment indexes to finished artifacts. Workers publish, a single
// consumer takes them in order. An index can be published at most once.
type State struct {
	mu        sync.Mutex
	ready     map[int]string
	published map[int]struct{}
	notify    chan struct{}
}

// NewState returns an empty State.
func NewState() *State {
	return &State{
		ready:     make(map[int]string),
		published: make(map[int]struct{}),
		notify:    make(chan struct{}),
	}
}

// Publish records that the artifact for index is on disk and wakes the consumer.
func (s *State) Publish(index int, artifact string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.published[index]; ok {
		return ErrDuplicateIndex
	}
	s.published[index] = struct{}{}
	s.ready[index] = artifact

	close(s.notify)
	s.notify = make(chan struct{})
	return nil
}

// Published returns the number of indexes published so far.
func (s *State) Published() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.published)
}

// take removes and returns the artifact for index if it is ready, along with
// the channel that is closed on the next Publish.
func (s *State) take(index int) (string, bool, <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if artifact, ok := s.ready[index]; ok {
		delete(s.ready, index)
		return artifact, true, nil
	}
	return "", false, s.notify
}

// Await blocks until index is published, then removes and returns its
// artifact. It wakes on every Publish and at least once per poll interval.
func (s *State) Await(ctx context.Context, index int, poll time.Duration) (string, error) {
	timer := time.NewTimer(poll)
	defer timer.Stop()

	for {
		artifact, ok, wake := s.take(index)
		if ok {
			return artifact, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-wake:
		case <-timer.C:
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(poll)
	}
}
