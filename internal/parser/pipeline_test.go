package parser

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestPipeline_NoLossUnderPressure(t *testing.T) {
	// Tiny buffer, slow consumer: every line must still arrive.
	pipeline := NewPipeline(2)

	var b strings.Builder
	for i := 0; i < 100; i++ {
		fmt.Fprintf(&b, "line %d\n", i)
	}
	b.WriteString("TORTURE TEST FAILED\n")

	go pipeline.RunReader(strings.NewReader(b.String()))

	var got []string
	for line := range pipeline.Lines() {
		time.Sleep(100 * time.Microsecond)
		got = append(got, line)
	}

	if len(got) != 101 {
		t.Fatalf("received %d lines, want 101", len(got))
	}
	if got[100] != "TORTURE TEST FAILED" {
		t.Errorf("last line = %q", got[100])
	}
	read, discarded, bytes := pipeline.Stats()
	if read != 101 || discarded != 0 {
		t.Errorf("Stats() = read %d discarded %d, want 101/0", read, discarded)
	}
	if bytes == 0 {
		t.Error("bytes read not counted")
	}
}

func TestPipeline_OversizedLineIsSplit(t *testing.T) {
	pipeline := NewPipeline(4)
	input := strings.Repeat("x", MaxLineLength+10) + "\nTORTURE TEST FAILED\r\n"

	done := make(chan struct{})
	go func() {
		pipeline.RunReader(strings.NewReader(input))
		close(done)
	}()

	var got []string
	for line := range pipeline.Lines() {
		got = append(got, line)
	}
	<-done

	if len(got) != 3 {
		t.Fatalf("received %d lines, want 3", len(got))
	}
	if len(got[0]) != MaxLineLength || got[1] != "xxxxxxxxxx" {
		t.Errorf("chunks = %d and %q bytes, want %d and 10 x", len(got[0]), got[1], MaxLineLength)
	}
	if got[2] != "TORTURE TEST FAILED" {
		t.Errorf("last line = %q, want the marker", got[2])
	}
	read, discarded, bytes := pipeline.Stats()
	if read != 3 || discarded != 0 {
		t.Errorf("Stats() = read %d discarded %d, want 3/0", read, discarded)
	}
	if bytes != int64(len(input)) {
		t.Errorf("bytes = %d, want %d", bytes, len(input))
	}
}

func TestPipeline_FinalLineWithoutNewline(t *testing.T) {
	pipeline := NewPipeline(4)
	go pipeline.RunReader(strings.NewReader("first\nlast"))

	var got []string
	for line := range pipeline.Lines() {
		got = append(got, line)
	}
	if len(got) != 2 || got[0] != "first" || got[1] != "last" {
		t.Errorf("lines = %q, want [first last]", got)
	}
}

func TestPipeline_CloseUnblocksReader(t *testing.T) {
	pipeline := NewPipeline(1)
	pr, pw := io.Pipe()

	readerDone := make(chan struct{})
	go func() {
		pipeline.RunReader(pr)
		close(readerDone)
	}()

	// Fill the channel, then one more line that blocks the reader.
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for i := 0; i < 10; i++ {
			if _, err := fmt.Fprintf(pw, "line %d\n", i); err != nil {
				return
			}
		}
		pw.Close()
	}()

	// Consumer stops after the first line.
	<-pipeline.Lines()
	pipeline.Close()

	select {
	case <-writerDone:
	case <-time.After(2 * time.Second):
		t.Fatal("writer blocked after consumer closed the pipeline")
	}
	select {
	case <-readerDone:
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not finish at EOF")
	}

	read, discarded, _ := pipeline.Stats()
	if read != 10 {
		t.Errorf("read = %d, want 10", read)
	}
	if discarded == 0 {
		t.Error("expected discarded lines after Close")
	}
}

func TestPipeline_ChannelClosedAtEOF(t *testing.T) {
	pipeline := NewPipeline(0)
	pipeline.RunReader(strings.NewReader(""))

	select {
	case _, ok := <-pipeline.Lines():
		if ok {
			t.Error("unexpected line from empty input")
		}
	default:
		t.Fatal("channel not closed at EOF")
	}
}

func TestPipeline_IdempotentClose(t *testing.T) {
	pipeline := NewPipeline(0)
	pipeline.Close()
	pipeline.Close()
	pipeline.CloseChannel()
	pipeline.CloseChannel()
}

func TestPipeline_DefaultBuffer(t *testing.T) {
	pipeline := NewPipeline(0)
	if cap(pipeline.lineChan) != DefaultBufferSize {
		t.Errorf("buffer = %d, want %d", cap(pipeline.lineChan), DefaultBufferSize)
	}
}

func TestPipeline_ConcurrentConsumers(t *testing.T) {
	pipeline := NewPipeline(4)
	go pipeline.RunReader(strings.NewReader(strings.Repeat("x\n", 500)))

	var mu sync.Mutex
	total := 0
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range pipeline.Lines() {
				mu.Lock()
				total++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if total != 500 {
		t.Errorf("consumed %d lines, want 500", total)
	}
}

func TestMarkerMatcher(t *testing.T) {
	m := NewMarkerMatcher("TORTURE TEST FAILED", "", "Errors encountered")

	tests := []struct {
		line       string
		wantMarker string
		wantOK     bool
	}{
		{"[Worker #1 Oct 19 10:00] TORTURE TEST FAILED on worker #1.", "TORTURE TEST FAILED", true},
		{"Errors encountered: 3", "Errors encountered", true},
		{"Self-test 4K passed!", "", false},
		{"torture test failed", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		marker, ok := m.Match(tt.line)
		if ok != tt.wantOK || marker != tt.wantMarker {
			t.Errorf("Match(%q) = %q, %v; want %q, %v", tt.line, marker, ok, tt.wantMarker, tt.wantOK)
		}
	}
	if got := len(m.Markers()); got != 2 {
		t.Errorf("len(Markers()) = %d, want 2 (empty ignored)", got)
	}
}
