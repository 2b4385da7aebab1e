// Package stream implements resumable generation streams. A producer writes
// chunks once; any number of subscribers, attaching at any point before or
// shortly after completion, observe the identical chunk sequence.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrDuplicateStream is returned when a stream id is created twice.
	ErrDuplicateStream = errors.New("stream id already exists")

	// ErrNoSuchStream is returned by Subscribe for unknown or expired ids.
	ErrNoSuchStream = errors.New("no such stream")

	// ErrStreamClosed is returned by Write after Close.
	ErrStreamClosed = errors.New("stream closed")
)

// Stream buffers every chunk written to it so late subscribers can replay
// from the start. Chunks are opaque bytes; ordering is the only guarantee.
type Stream struct {
	id string

	mu        sync.Mutex
	cond      *sync.Cond
	chunks    [][]byte
	closed    bool
	expiresAt time.Time
}

func newStream(id string) *Stream {
	s := &Stream{id: id}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// ID returns the stream id.
func (s *Stream) ID() string { return s.id }

// Write appends one chunk and wakes subscribers.
func (s *Stream) Write(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: %s", ErrStreamClosed, s.id)
	}
	buf := make([]byte, len(chunk))
	copy(buf, chunk)
	s.chunks = append(s.chunks, buf)
	s.cond.Broadcast()
	return nil
}

// close marks the stream complete. The buffer stays readable until the
// registry sweeps it after the retention window.
func (s *Stream) close(retention time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.expiresAt = time.Now().Add(retention)
	s.cond.Broadcast()
}

// Closed reports whether the producer has finished.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Stream) expired(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed && now.After(s.expiresAt)
}

// subscribe delivers the full chunk sequence from the beginning, then live
// chunks until the stream closes or ctx is cancelled. The returned channel
// is closed when the sequence ends.
func (s *Stream) subscribe(ctx context.Context) <-chan []byte {
	out := make(chan []byte)
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})

	go func() {
		defer close(out)
		defer stop()
		next := 0
		for {
			s.mu.Lock()
			for next >= len(s.chunks) && !s.closed && ctx.Err() == nil {
				s.cond.Wait()
			}
			if ctx.Err() != nil {
				s.mu.Unlock()
				return
			}
			if next >= len(s.chunks) && s.closed {
				s.mu.Unlock()
				return
			}
			chunk := s.chunks[next]
			next++
			s.mu.Unlock()

			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Registry tracks live and recently completed streams by id.
type Registry struct {
	retention time.Duration

	mu      sync.Mutex
	streams map[string]*Stream
}

// NewRegistry creates a registry. retention is how long a completed stream
// stays replayable.
func NewRegistry(retention time.Duration) *Registry {
	return &Registry{
		retention: retention,
		streams:   make(map[string]*Stream),
	}
}

// Create registers a new stream for the producer to write into. Ids are
// single-use: recreating one, even after expiry, is an error.
func (r *Registry) Create(streamID string) (*Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.streams[streamID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateStream, streamID)
	}
	s := newStream(streamID)
	r.streams[streamID] = s
	return s, nil
}

// Finish closes the stream and starts its retention window.
func (r *Registry) Finish(streamID string) {
	r.mu.Lock()
	s, ok := r.streams[streamID]
	r.mu.Unlock()
	if ok {
		s.close(r.retention)
	}
}

// Subscribe attaches to a stream, replaying everything written so far.
func (r *Registry) Subscribe(ctx context.Context, streamID string) (<-chan []byte, error) {
	r.mu.Lock()
	s, ok := r.streams[streamID]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchStream, streamID)
	}
	return s.subscribe(ctx), nil
}

// Has reports whether the stream id is still known.
func (r *Registry) Has(streamID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.streams[streamID]
	return ok
}

// Len returns the number of tracked streams.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}

// Sweep drops completed streams whose retention window has passed and
// returns how many were removed. Live streams are never swept.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, s := range r.streams {
		if s.expired(now) {
			delete(r.streams, id)
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("swept expired streams", "removed", removed, "remaining", len(r.streams))
	}
	return removed
}
