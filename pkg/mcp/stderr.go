// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mcp

import (
	"io"
	"sync"
	"time"
)

// stderrBuffer continuously drains a child process's stderr into a bounded
// ring so diagnostic context survives for error messages without blocking
// the pipe or growing without bound. Stderr is diagnostic-only: it never
// carries protocol data.
type stderrBuffer struct {
	mu   sync.Mutex
	buf  []byte
	r    io.Reader
	done chan struct{}
}

const stderrRingCapacity = 8192

func newStderrBuffer(r io.Reader) *stderrBuffer {
	return &stderrBuffer{r: r, done: make(chan struct{})}
}

// pump reads from the underlying reader until EOF or close, appending to the
// ring buffer. Run as a goroutine for the transport's lifetime.
func (s *stderrBuffer) pump() {
	chunk := make([]byte, 4096)
	for {
		n, err := s.r.Read(chunk)
		if n > 0 {
			s.mu.Lock()
			s.buf = append(s.buf, chunk[:n]...)
			if len(s.buf) > stderrRingCapacity {
				s.buf = s.buf[len(s.buf)-stderrRingCapacity:]
			}
			s.mu.Unlock()
		}
		if err != nil {
			return
		}
		select {
		case <-s.done:
			return
		default:
		}
	}
}

// drain returns up to maxBytes of the most recently captured stderr,
// waiting up to window for additional output to settle.
func (s *stderrBuffer) drain(window time.Duration, maxBytes int) string {
	time.Sleep(window)

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buf) <= maxBytes {
		return string(s.buf)
	}
	return string(s.buf[len(s.buf)-maxBytes:])
}

func (s *stderrBuffer) close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}
