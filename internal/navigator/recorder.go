package navigator

import (
	"context"
	"sync"
)

// Call is one request made to a Recorder.
type Call struct {
	Op       string // "open" or "reveal"
	Path     string
	Position Position
}

// Recorder is a headless Revealer that remembers every call. Err, when set,
// is returned from every call after it is recorded.
type Recorder struct {
	Err error

	mu    sync.Mutex
	calls []Call
}

// OpenFile implements Revealer.
func (r *Recorder) OpenFile(_ context.Context, path string, pos Position) error {
	return r.record(Call{Op: "open", Path: path, Position: pos})
}

// RevealDirectory implements Revealer.
func (r *Recorder) RevealDirectory(_ context.Context, path string) error {
	return r.record(Call{Op: "reveal", Path: path})
}

func (r *Recorder) record(c Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
	return r.Err
}

// Calls returns a copy of the recorded calls.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Last returns the most recent call.
func (r *Recorder) Last() (Call, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return Call{}, false
	}
	return r.calls[len(r.calls)-1], true
}
