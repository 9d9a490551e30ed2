package chunk_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/MrWong99/lingoxa/internal/bus"
	"github.com/MrWong99/lingoxa/internal/chunk"
)

// recorder is a bus.Publisher that keeps every published chunk.
type recorder struct {
	mu     sync.Mutex
	chunks []bus.Chunk
}

func (r *recorder) Publish(topic string, payload any) {
	if topic != bus.TopicChunkReady {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, payload.(bus.Chunk))
}

func ramp(from, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(from + i)
	}
	return out
}

func TestNew_InvalidWindow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name                     string
		rate, chunkMs, overlapMs int
	}{
		{"overlap equals chunk", 1000, 100, 100},
		{"overlap exceeds chunk", 1000, 100, 150},
		{"zero chunk", 1000, 0, 0},
		{"negative overlap", 1000, 100, -1},
		{"zero rate", 0, 100, 10},
		{"sub-sample chunk", 10, 50, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := chunk.New(tt.rate, tt.chunkMs, tt.overlapMs, &recorder{})
			if !errors.Is(err, chunk.ErrInvalidWindow) {
				t.Errorf("err = %v, want ErrInvalidWindow", err)
			}
		})
	}
}

func TestPush_ContiguousIDsAndFixedSize(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	p, err := chunk.New(1000, 100, 20, rec) // 100 samples, 20 overlap, step 80
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Feed in uneven blocks.
	off := 0
	for _, n := range []int{37, 150, 1, 200, 12} {
		p.Push(ramp(off, n))
		off += n
	}

	// 400 samples: chunks start at 0, 80, 160, 240 (ends at 340); 320+100 > 400.
	if len(rec.chunks) != 4 {
		t.Fatalf("chunks = %d, want 4", len(rec.chunks))
	}
	for i, c := range rec.chunks {
		if c.ID != uint64(i+1) {
			t.Errorf("chunk %d ID = %d, want %d", i, c.ID, i+1)
		}
		if len(c.Samples) != 100 {
			t.Errorf("chunk %d size = %d, want 100", i, len(c.Samples))
		}
		if c.Samples[0] != float32(i*80) {
			t.Errorf("chunk %d starts at %v, want %d", i, c.Samples[0], i*80)
		}
		if c.DurationMs != 100 || c.OverlapMs != 20 {
			t.Errorf("chunk %d durations = %v/%v", i, c.DurationMs, c.OverlapMs)
		}
	}
	if got := p.Buffered(); got != 400-4*80 {
		t.Errorf("Buffered = %d, want %d", got, 400-4*80)
	}
}

func TestPush_OverlapRegionShared(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	p, err := chunk.New(1000, 50, 10, rec)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.Push(ramp(0, 500))

	for i := 1; i < len(rec.chunks); i++ {
		prev, cur := rec.chunks[i-1].Samples, rec.chunks[i].Samples
		for j := range 10 {
			if prev[40+j] != cur[j] {
				t.Fatalf("chunk %d overlap mismatch at %d: %v != %v", i, j, prev[40+j], cur[j])
			}
		}
	}
}

func TestPush_NoOverlap(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	p, err := chunk.New(1000, 10, 0, rec)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.Push(ramp(0, 30))

	if len(rec.chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(rec.chunks))
	}
	if rec.chunks[1].Samples[0] != 10 || rec.chunks[2].Samples[0] != 20 {
		t.Error("chunks overlap although overlap is 0")
	}
	if p.Buffered() != 0 {
		t.Errorf("Buffered = %d, want 0", p.Buffered())
	}
}

func TestPush_ChunksAreCopies(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	p, _ := chunk.New(1000, 10, 5, rec)
	p.Push(ramp(0, 10))
	rec.chunks[0].Samples[0] = -1
	p.Push(ramp(10, 5))

	if rec.chunks[1].Samples[0] != 5 {
		t.Errorf("second chunk starts at %v, want 5", rec.chunks[1].Samples[0])
	}
}

func TestReset_KeepsIDs(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	p, _ := chunk.New(1000, 10, 0, rec)
	p.Push(ramp(0, 15))
	p.Reset()
	if p.Buffered() != 0 {
		t.Fatalf("Buffered after Reset = %d", p.Buffered())
	}
	p.Push(ramp(100, 10))

	if len(rec.chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(rec.chunks))
	}
	if rec.chunks[1].ID != 2 || rec.chunks[1].Samples[0] != 100 {
		t.Errorf("chunk after reset = id %d start %v", rec.chunks[1].ID, rec.chunks[1].Samples[0])
	}
}
