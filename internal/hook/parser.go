// SPDX-License-Identifier: MPL-2.0

package hook

import (
	"bytes"
	"io"
	"sync"
)

// Parser states. The protocol is a strict progression:
// awaiting-sentinel -> executing -> settled.
const (
	StateAwaitingSentinel State = iota
	StateExecuting
	StateSettled
)

type (
	// State is the sentinel protocol state.
	State int

	// sentinelParser scans the hook's stdout for the sentinel line, forwarding
	// everything except the sentinel itself to out. Partial lines are buffered
	// so a sentinel split across chunked reads is still recognized.
	sentinelParser struct {
		mu      sync.Mutex
		state   State
		partial []byte
		out     io.Writer
		seen    chan struct{}
	}
)

func newSentinelParser(out io.Writer) *sentinelParser {
	return &sentinelParser{out: out, seen: make(chan struct{})}
}

// Write feeds a chunk of hook stdout. Once the sentinel has been observed,
// input passes straight through to out.
func (p *sentinelParser) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateAwaitingSentinel {
		_, _ = p.out.Write(data)
		return len(data), nil
	}

	p.partial = append(p.partial, data...)
	for {
		i := bytes.IndexByte(p.partial, '\n')
		if i < 0 {
			return len(data), nil
		}
		line := bytes.TrimRight(p.partial[:i], "\r")
		rest := p.partial[i+1:]
		if string(line) == Sentinel {
			p.state = StateExecuting
			p.partial = nil
			close(p.seen)
			if len(rest) > 0 {
				_, _ = p.out.Write(rest)
			}
			return len(data), nil
		}
		_, _ = p.out.Write(p.partial[:i+1])
		p.partial = rest
	}
}

// SentinelSeen is closed when the sentinel line has been observed.
func (p *sentinelParser) SentinelSeen() <-chan struct{} { return p.seen }

// Settle marks the protocol finished, flushing any buffered partial line.
func (p *sentinelParser) Settle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.partial) > 0 {
		_, _ = p.out.Write(p.partial)
		p.partial = nil
	}
	p.state = StateSettled
}

// State returns the current protocol state.
func (p *sentinelParser) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}
