package winapi

import (
	"os"
	"sync"
)

// StdoutBuffer is a mutex-guarded accumulator for guest stdout writes
// (printf family, WriteConsoleA/W, WriteFile against the console handle).
// Grounded on the teacher's safe_buffer.go, a commit/reset-guarded
// bytes.Buffer wrapper built to keep a single-writer code generator's
// output consistent; generalized here to the concurrent-host-callback
// case (multiple emulated threads may format output at once once the
// deferred thread queue in spec.md §4.3 runs more than one thread).
type StdoutBuffer struct {
	mu  sync.Mutex
	buf []byte
}

// Write appends b and flushes immediately to os.Stdout, matching the
// teacher's pattern of a guarded buffer in front of a real sink rather
// than batching for later inspection.
func (s *StdoutBuffer) Write(b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = append(s.buf, b...)
	os.Stdout.Write(b)
}

// String returns everything written so far — used by tests that want to
// assert on emitted guest output without capturing the real os.Stdout.
func (s *StdoutBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.buf)
}
