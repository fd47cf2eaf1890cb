// Package logstream fans out one container's output stream to any
// number of live subscribers.
package logstream

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"sync"
)

// GapMarker is inserted into a subscriber's stream in place of lines
// that were dropped because the subscriber could not keep up.
const GapMarker = "[... log lines dropped ...]"

// ErrUnknownStream is returned by Subscribe when no stream was ever
// opened for the job.
var ErrUnknownStream = errors.New("no log stream for job")

// scanBufSize bounds a single log line read from the container.
const scanBufSize = 1 << 20

// maxRetained bounds how many closed streams keep their ring for late
// observers before the oldest ring is evicted.
const maxRetained = 100

// Mux multiplexes per-job log streams. Each stream drains one upstream
// reader into a ring of recent lines and broadcasts new lines to every
// subscriber. A slow subscriber loses its oldest lines; it never blocks
// the drain or the other subscribers.
type Mux struct {
	mu          sync.Mutex
	streams     map[string]*stream
	closedOrder []string // closed streams, oldest first

	bufLines  int // ring capacity per stream
	queueSize int // per-subscriber delivery queue

	log *slog.Logger
}

// NewMux creates a multiplexer keeping the last bufLines lines per job
// and queueSize undelivered lines per subscriber.
func NewMux(bufLines, queueSize int, logger *slog.Logger) *Mux {
	if bufLines <= 0 {
		bufLines = 200
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	return &Mux{
		streams:   make(map[string]*stream),
		bufLines:  bufLines,
		queueSize: queueSize,
		log:       logger,
	}
}

type stream struct {
	mu      sync.Mutex
	ring    []string
	head    int
	count   int
	subs    map[uint64]*subscriber
	nextSub uint64
	closed  bool

	src     io.ReadCloser
	drained chan struct{}
}

type subscriber struct {
	ch  chan string
	gap bool
}

// Subscription is one observer's view of a job's log stream. Lines is
// closed when the job reaches a terminal state and the buffered output
// has been flushed. Close releases the subscriber's resources; it is
// safe to call at any time.
type Subscription struct {
	Lines <-chan string

	once   sync.Once
	cancel func()
}

// Close detaches the subscription from the stream.
func (s *Subscription) Close() {
	s.once.Do(s.cancel)
}

// Open starts draining the container output stream for a job. Called
// once, when the job's container starts.
func (m *Mux) Open(jobID string, src io.ReadCloser) {
	st := &stream{
		ring:    make([]string, m.bufLines),
		subs:    make(map[uint64]*subscriber),
		src:     src,
		drained: make(chan struct{}),
	}

	m.mu.Lock()
	m.streams[jobID] = st
	m.mu.Unlock()

	go m.drain(jobID, st)
}

func (m *Mux) drain(jobID string, st *stream) {
	defer close(st.drained)

	scanner := bufio.NewScanner(st.src)
	scanner.Buffer(make([]byte, 64*1024), scanBufSize)
	for scanner.Scan() {
		st.publish(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		m.log.Debug("log stream drain ended", "job_id", jobID, "error", err)
	}
}

func (st *stream) publish(line string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return
	}

	// Ring of the most recent lines, for late joiners.
	st.ring[(st.head+st.count)%len(st.ring)] = line
	if st.count < len(st.ring) {
		st.count++
	} else {
		st.head = (st.head + 1) % len(st.ring)
	}

	for _, sub := range st.subs {
		sub.deliver(line)
	}
}

// deliver enqueues a line for one subscriber without ever blocking.
// The stream lock makes this the only sender, so a successful length
// check guarantees a non-blocking send.
func (sub *subscriber) deliver(line string) {
	if len(sub.ch) < cap(sub.ch) {
		sub.gap = false
		sub.ch <- line
		return
	}

	// Queue full: drop the oldest undelivered line.
	select {
	case <-sub.ch:
	default:
	}
	if !sub.gap {
		sub.gap = true
		select {
		case <-sub.ch:
		default:
		}
		sub.ch <- GapMarker
	}
	sub.ch <- line
}

// snapshot returns the ring contents in arrival order.
func (st *stream) snapshot() []string {
	lines := make([]string, 0, st.count)
	for i := 0; i < st.count; i++ {
		lines = append(lines, st.ring[(st.head+i)%len(st.ring)])
	}
	return lines
}

// Subscribe attaches a new observer to a job's stream. The observer
// first receives the buffered recent lines in order, then live lines as
// they arrive. If the stream is already closed the buffered lines are
// served and the subscription ends immediately after.
func (m *Mux) Subscribe(jobID string) (*Subscription, error) {
	m.mu.Lock()
	st, ok := m.streams[jobID]
	m.mu.Unlock()
	if !ok {
		return nil, ErrUnknownStream
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	replay := st.snapshot()
	// Sized so the full replay always fits ahead of the live queue.
	ch := make(chan string, len(replay)+m.queueSize)
	for _, line := range replay {
		ch <- line
	}

	if st.closed {
		close(ch)
		return &Subscription{Lines: ch, cancel: func() {}}, nil
	}

	id := st.nextSub
	st.nextSub++
	sub := &subscriber{ch: ch}
	st.subs[id] = sub

	cancel := func() {
		st.mu.Lock()
		defer st.mu.Unlock()
		if _, still := st.subs[id]; still {
			delete(st.subs, id)
			close(ch)
		}
	}
	return &Subscription{Lines: ch, cancel: cancel}, nil
}

// Close ends a job's stream: remaining upstream output is flushed to
// all subscribers, then every subscription ends. The ring is retained
// so observers attaching after completion still see the recent output.
func (m *Mux) Close(jobID string) {
	m.mu.Lock()
	st, ok := m.streams[jobID]
	m.mu.Unlock()
	if !ok {
		return
	}

	// Unblock and finish the drain so buffered output reaches the ring
	// and the subscribers before the channels close.
	st.src.Close()
	<-st.drained

	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return
	}
	st.closed = true
	for id, sub := range st.subs {
		delete(st.subs, id)
		close(sub.ch)
	}
	st.mu.Unlock()

	m.retain(jobID)
}

// retain records a freshly closed stream and evicts the oldest retained
// rings beyond maxRetained, so log history stays bounded over the
// daemon's lifetime.
func (m *Mux) retain(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closedOrder = append(m.closedOrder, jobID)
	for len(m.closedOrder) > maxRetained {
		oldest := m.closedOrder[0]
		m.closedOrder = m.closedOrder[1:]
		if st, ok := m.streams[oldest]; ok && st.isClosed() {
			delete(m.streams, oldest)
		}
	}
}

func (st *stream) isClosed() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.closed
}

// Drained returns a channel that closes once the upstream stream for a
// job has been fully consumed. Returns a closed channel for unknown jobs.
func (m *Mux) Drained(jobID string) <-chan struct{} {
	m.mu.Lock()
	st, ok := m.streams[jobID]
	m.mu.Unlock()
	if !ok {
		done := make(chan struct{})
		close(done)
		return done
	}
	return st.drained
}

// Tail returns the buffered recent lines for a job, oldest first.
func (m *Mux) Tail(jobID string) []string {
	m.mu.Lock()
	st, ok := m.streams[jobID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.snapshot()
}
