package worker_test

import (
	"context"
	"testing"
	"time"

	"github.com/lingopack/lingopack/internal/worker"
)

func TestSizerMapsMemoryPressureToBatchSize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		used float64
		want int
	}{
		{"critical pressure quarters the batch", 0.95, 12},
		{"ninety percent boundary", 0.90, 12},
		{"high pressure halves the batch", 0.85, 25},
		{"eighty percent boundary", 0.80, 25},
		{"moderate pressure keeps the base", 0.75, 50},
		{"seventy percent boundary", 0.70, 50},
		{"idle host doubles the batch", 0.40, 100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			sz := worker.NewSizer(worker.WithSampler(func() float64 { return tc.used }))
			if got := sz.Size(context.Background()); got != tc.want {
				t.Errorf("Size at %.2f used = %d, want %d", tc.used, got, tc.want)
			}
		})
	}
}

func TestSizerCachesSamplesUntilStale(t *testing.T) {
	t.Parallel()

	var (
		samples int
		current = time.Now()
	)
	sz := worker.NewSizer(
		worker.WithSampler(func() float64 { samples++; return 0.75 }),
		worker.WithClock(func() time.Time { return current }),
		worker.WithResampleInterval(time.Minute),
	)

	ctx := context.Background()
	sz.Size(ctx)
	sz.Size(ctx)
	if samples != 1 {
		t.Fatalf("samples after back-to-back calls = %d, want 1", samples)
	}

	current = current.Add(59 * time.Second)
	sz.Size(ctx)
	if samples != 1 {
		t.Fatalf("samples before interval elapsed = %d, want 1", samples)
	}

	current = current.Add(2 * time.Second)
	if got := sz.Size(ctx); got != 50 {
		t.Errorf("Size = %d, want 50", got)
	}
	if samples != 2 {
		t.Fatalf("samples after interval elapsed = %d, want 2", samples)
	}
}

func TestSizerDefaultsStayWithinBounds(t *testing.T) {
	t.Parallel()

	// The default sampler reads real system memory; whatever it reports must
	// map into the supported range.
	sz := worker.NewSizer()
	got := sz.Size(context.Background())
	if got < 10 || got > 200 {
		t.Errorf("Size = %d, want within [10, 200]", got)
	}
}
