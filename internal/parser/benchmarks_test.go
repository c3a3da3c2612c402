package parser

import (
	"strings"
	"testing"
)

// =============================================================================
// Pipeline Throughput Benchmarks
// =============================================================================

// mprimeOutput is a representative chunk of torture-test chatter.
var mprimeOutput = strings.Repeat(
	"[Worker #1 Oct 19 10:00] Test 1, 7000 Lucas-Lehmer iterations of M39999999 using FMA3 FFT length 2240K.\n"+
		"[Worker #1 Oct 19 10:00] Self-test 2240K passed!\n", 512)

// BenchmarkPipeline_ReadAndConsume measures reader-to-consumer throughput.
func BenchmarkPipeline_ReadAndConsume(b *testing.B) {
	b.SetBytes(int64(len(mprimeOutput)))
	for i := 0; i < b.N; i++ {
		pipeline := NewPipeline(DefaultBufferSize)
		go pipeline.RunReader(strings.NewReader(mprimeOutput))
		for range pipeline.Lines() {
		}
	}
}

// BenchmarkPipeline_SmallBuffer stresses the blocking hand-off.
func BenchmarkPipeline_SmallBuffer(b *testing.B) {
	b.SetBytes(int64(len(mprimeOutput)))
	for i := 0; i < b.N; i++ {
		pipeline := NewPipeline(1) // Small buffer to stress it
		go pipeline.RunReader(strings.NewReader(mprimeOutput))
		for range pipeline.Lines() {
		}
	}
}

// BenchmarkPipeline_Discard measures draining after the consumer has gone.
func BenchmarkPipeline_Discard(b *testing.B) {
	b.SetBytes(int64(len(mprimeOutput)))
	for i := 0; i < b.N; i++ {
		pipeline := NewPipeline(DefaultBufferSize)
		pipeline.Close()
		pipeline.RunReader(strings.NewReader(mprimeOutput))
	}
}

// =============================================================================
// Marker Benchmark
// =============================================================================

// BenchmarkMarkerMatcher_Match benchmarks the per-line marker test.
func BenchmarkMarkerMatcher_Match(b *testing.B) {
	lines := map[string]string{
		"Progress": "[Worker #1 Oct 19 10:00] Test 1, 7000 Lucas-Lehmer iterations of M39999999 using FMA3 FFT length 2240K.",
		"Passed":   "[Worker #1 Oct 19 10:00] Self-test 2240K passed!",
		"Failed":   "[Worker #1 Oct 19 10:01] FATAL ERROR: Rounding was 0.5, expected less than 0.4 TORTURE TEST FAILED",
		"Empty":    "",
	}

	m := NewMarkerMatcher("TORTURE TEST FAILED", "Hardware failure detected")
	for name, line := range lines {
		b.Run(name, func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				m.Match(line)
			}
		})
	}
}
