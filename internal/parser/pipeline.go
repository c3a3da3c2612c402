// Package parser moves stress-tool output from the child's pipe to the
// output scanner.
//
// Two-Layer Architecture:
//
//	Layer 1 (Reader):  dedicated goroutine, reads lines into a bounded channel
//	Layer 2 (Scanner): consumes from the channel at its own pace
//
// Unlike a metrics pipeline, a verification stream cannot drop lines: the
// one line that matters is the failure marker. The reader blocks when the
// channel is full and only discards lines once the consumer has called
// Close, so the child is never stuck on a full pipe after the scanner
// has stopped.
package parser

import (
	"bufio"
	"errors"
	"io"
	"sync"
	"sync/atomic"
)

// DefaultBufferSize is the default channel capacity, in lines.
const DefaultBufferSize = 256

// MaxLineLength bounds a single line; longer lines are delivered in
// MaxLineLength chunks.
const MaxLineLength = 1024 * 1024

// Pipeline feeds lines from a reader into a bounded channel.
type Pipeline struct {
	lineChan  chan string
	closeOnce sync.Once // CloseChannel
	done      chan struct{}
	doneOnce  sync.Once // Close

	linesRead      int64
	linesDiscarded int64
	bytesRead      int64
}

// NewPipeline creates a pipeline. bufferSize < 1 selects DefaultBufferSize.
func NewPipeline(bufferSize int) *Pipeline {
	if bufferSize < 1 {
		bufferSize = DefaultBufferSize
	}
	return &Pipeline{
		lineChan: make(chan string, bufferSize),
		done:     make(chan struct{}),
	}
}

// RunReader is Layer 1. It MUST run in a dedicated goroutine and returns at
// EOF or read error, closing the line channel on the way out.
func (p *Pipeline) RunReader(r io.Reader) {
	defer p.CloseChannel()

	br := bufio.NewReaderSize(r, MaxLineLength)
	for {
		chunk, err := br.ReadSlice('\n')
		if len(chunk) > 0 {
			atomic.AddInt64(&p.bytesRead, int64(len(chunk)))
			p.deliver(trimEOL(chunk))
		}
		if err != nil && !errors.Is(err, bufio.ErrBufferFull) {
			return
		}
	}
}

// deliver hands one line to the consumer, or counts it as discarded once
// the consumer is gone.
func (p *Pipeline) deliver(line string) {
	atomic.AddInt64(&p.linesRead, 1)

	select {
	case <-p.done:
		// consumer is gone; keep draining so the writer never blocks
		atomic.AddInt64(&p.linesDiscarded, 1)
		return
	default:
	}

	select {
	case p.lineChan <- line:
	case <-p.done:
		atomic.AddInt64(&p.linesDiscarded, 1)
	}
}

// trimEOL copies b without its trailing "\n" or "\r\n".
func trimEOL(b []byte) string {
	if n := len(b); n > 0 && b[n-1] == '\n' {
		b = b[:n-1]
		if n := len(b); n > 0 && b[n-1] == '\r' {
			b = b[:n-1]
		}
	}
	return string(b)
}

// Lines returns the channel Layer 2 consumes. It is closed at EOF.
func (p *Pipeline) Lines() <-chan string {
	return p.lineChan
}

// CloseChannel closes the line channel. Called by RunReader at EOF.
// Safe to call multiple times.
func (p *Pipeline) CloseChannel() {
	p.closeOnce.Do(func() {
		close(p.lineChan)
	})
}

// Close tells the reader that nobody consumes lines any more. Subsequent
// lines are read and discarded until EOF. Safe to call multiple times.
func (p *Pipeline) Close() {
	p.doneOnce.Do(func() {
		close(p.done)
	})
}

// Stats returns (linesRead, linesDiscarded, bytesRead).
func (p *Pipeline) Stats() (read, discarded, bytes int64) {
	return atomic.LoadInt64(&p.linesRead),
		atomic.LoadInt64(&p.linesDiscarded),
		atomic.LoadInt64(&p.bytesRead)
}
