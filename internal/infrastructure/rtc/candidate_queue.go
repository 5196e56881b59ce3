package rtc

import (
	"sync"

	"github.com/hi-zp/recording/internal/core/domain"
)

// CandidateQueue buffers remote ICE candidates that arrive before the remote
// session description is set. Candidates are held in arrival order and
// released exactly once; after the drain, arrivals bypass the queue.
type CandidateQueue struct {
	mu      sync.Mutex
	pending []domain.ICECandidate
	drained bool
}

func NewCandidateQueue() *CandidateQueue {
	return &CandidateQueue{}
}

// Enqueue buffers a candidate if the queue has not been drained yet. The
// return value reports whether the candidate was taken; false means the
// caller must apply it immediately.
func (q *CandidateQueue) Enqueue(c domain.ICECandidate) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.drained {
		return false
	}
	q.pending = append(q.pending, c)
	return true
}

// Drain returns all buffered candidates in arrival order and permanently
// switches the queue to pass-through. Calling it again returns nil.
func (q *CandidateQueue) Drain() []domain.ICECandidate {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.drained {
		return nil
	}
	q.drained = true
	out := q.pending
	q.pending = nil
	return out
}

// Len reports the number of buffered candidates.
func (q *CandidateQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Drained reports whether the queue has been released.
func (q *CandidateQueue) Drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.drained
}
