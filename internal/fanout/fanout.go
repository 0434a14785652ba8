// Package fanout copies one source byte stream to several independent readers
// in a single pass.
//
// A Fanout owns one producer (Run) and K Tees. Each Tee has a bounded chunk
// buffer; the producer pushes every chunk to every Tee that is still open and
// blocks while any open Tee's buffer is full. A slow reader therefore paces the
// whole copy pass. Closing a Tee takes it out of the pass immediately.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

const (
	// DefaultChunkSize is the size of each read from the source.
	DefaultChunkSize = 32 * 1024
	// DefaultBufferChunks is the per-tee buffer depth, in chunks.
	DefaultBufferChunks = 8
)

var (
	// ErrTeeClosed is returned by Read after the reader closed its Tee.
	ErrTeeClosed = errors.New("tee closed")
	// ErrAlreadyRun is returned when Run is called twice.
	ErrAlreadyRun = errors.New("fanout already run")
)

// Option configures a Fanout.
type Option func(*Fanout)

// WithChunkSize sets the source read size.
func WithChunkSize(n int) Option {
	return func(f *Fanout) {
		if n > 0 {
			f.chunkSize = n
		}
	}
}

// WithBufferChunks sets how many chunks each Tee may hold before the producer blocks.
func WithBufferChunks(n int) Option {
	return func(f *Fanout) {
		if n > 0 {
			f.bufferChunks = n
		}
	}
}

// Fanout distributes one source to a fixed set of Tees.
type Fanout struct {
	src          io.Reader
	tees         []*Tee
	chunkSize    int
	bufferChunks int
	started      atomic.Bool
	read         atomic.Int64
}

// New creates a Fanout with one Tee per owner. All Tees exist before any byte
// is copied.
func New(src io.Reader, owners []string, opts ...Option) *Fanout {
	f := &Fanout{
		src:          src,
		chunkSize:    DefaultChunkSize,
		bufferChunks: DefaultBufferChunks,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.tees = make([]*Tee, 0, len(owners))
	for _, owner := range owners {
		f.tees = append(f.tees, newTee(owner, f.bufferChunks))
	}
	return f
}

// Tees returns the Tees in owner order.
func (f *Fanout) Tees() []*Tee {
	return f.tees
}

// Tee returns the first Tee owned by owner, or nil.
func (f *Fanout) Tee(owner string) *Tee {
	for _, t := range f.tees {
		if t.owner == owner {
			return t
		}
	}
	return nil
}

// BytesRead returns how many bytes have been read from the source so far.
func (f *Fanout) BytesRead() int64 {
	return f.read.Load()
}

// Run copies the source to every open Tee until the source ends, then waits
// until each Tee has been closed or read to end-of-stream. It returns the
// number of bytes read from the source.
//
// A source read error ends the fan-out for every open Tee: readers receive the
// error once their buffered bytes are consumed. Cancelling ctx does the same
// with the context error.
func (f *Fanout) Run(ctx context.Context) (int64, error) {
	if !f.started.CompareAndSwap(false, true) {
		return 0, ErrAlreadyRun
	}

	runErr := f.copy(ctx)
	f.finish(runErr)
	if runErr != nil {
		return f.read.Load(), runErr
	}
	return f.read.Load(), f.wait(ctx)
}

func (f *Fanout) copy(ctx context.Context) error {
	for {
		if f.allClosed() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		// Chunks are shared read-only between Tees, so every read gets a fresh buffer.
		buf := make([]byte, f.chunkSize)
		n, err := f.src.Read(buf)
		if n > 0 {
			f.read.Add(int64(n))
			if perr := f.push(ctx, buf[:n]); perr != nil {
				return perr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read source: %w", err)
		}
	}
}

func (f *Fanout) push(ctx context.Context, chunk []byte) error {
	for _, t := range f.tees {
		if t.isClosed() {
			continue
		}
		select {
		case t.ch <- chunk:
			// Close may have landed while the send was pending.
			if !t.isClosed() {
				t.delivered.Add(int64(len(chunk)))
			}
		case <-t.closed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// finish marks every Tee end-of-stream. Only the producer closes t.ch.
func (f *Fanout) finish(err error) {
	for _, t := range f.tees {
		t.err = err
		close(t.ch)
	}
}

func (f *Fanout) wait(ctx context.Context) error {
	for _, t := range f.tees {
		select {
		case <-t.closed:
		case <-t.drained:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (f *Fanout) allClosed() bool {
	for _, t := range f.tees {
		if !t.isClosed() {
			return false
		}
	}
	return true
}

// Tee is one output branch of a Fanout. It is meant to be read by a single
// consumer goroutine.
type Tee struct {
	owner string
	ch    chan []byte
	cur   []byte
	err   error

	closed    chan struct{}
	closeOnce sync.Once
	drained   chan struct{}
	drainOnce sync.Once

	delivered atomic.Int64
	consumed  atomic.Int64
}

func newTee(owner string, depth int) *Tee {
	return &Tee{
		owner:   owner,
		ch:      make(chan []byte, depth),
		closed:  make(chan struct{}),
		drained: make(chan struct{}),
	}
}

// Owner returns the identity the Tee was created for.
func (t *Tee) Owner() string { return t.owner }

// Delivered returns the bytes the producer has pushed into this Tee.
func (t *Tee) Delivered() int64 { return t.delivered.Load() }

// Consumed returns the bytes handed out by Read.
func (t *Tee) Consumed() int64 { return t.consumed.Load() }

// Read drains the Tee's buffer, blocking while it is empty and the source has
// not ended.
func (t *Tee) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if t.isClosed() {
		t.cur = nil
		return 0, ErrTeeClosed
	}
	for len(t.cur) == 0 {
		if t.isClosed() {
			return 0, ErrTeeClosed
		}
		select {
		case chunk, ok := <-t.ch:
			if !ok {
				t.drainOnce.Do(func() { close(t.drained) })
				if t.err != nil {
					return 0, t.err
				}
				return 0, io.EOF
			}
			t.cur = chunk
		case <-t.closed:
			return 0, ErrTeeClosed
		}
	}
	n := copy(p, t.cur)
	t.cur = t.cur[n:]
	t.consumed.Add(int64(n))
	return n, nil
}

// Close detaches the Tee from the fan-out. Unread bytes are dropped. Close
// never blocks and always returns nil.
func (t *Tee) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

func (t *Tee) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}
