package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/savedsearch/internal/metrics"
)

// Destination is the interface for an export target (S3, directory).
type Destination interface {
	// Write sends the JSONL payload to the destination.
	Write(ctx context.Context, data []byte) error
}

// Scheduler runs periodic exports to one or more destinations.
type Scheduler struct {
	source       Source
	libraries    []int64
	destinations []Destination
	interval     time.Duration
	metrics      *metrics.Metrics
	logger       *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler that exports the given libraries to the
// destinations at the specified interval. m may be nil.
func NewScheduler(src Source, libraries []int64, destinations []Destination, interval time.Duration,
	m *metrics.Metrics, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		source:       src,
		libraries:    libraries,
		destinations: destinations,
		interval:     interval,
		metrics:      m,
		logger:       logger,
	}
}

// Start begins periodic export. It runs an initial export immediately, then
// on each tick.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop cancels the scheduler and waits for the current export (if any) to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	// Run once immediately at startup.
	_ = s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single export to every destination. A failing
// destination does not stop the others; their errors are joined.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var buf bytes.Buffer
	n, err := ExportJSONL(ctx, s.source, s.libraries, &buf)
	if err != nil {
		s.logger.Error("export failed", "err", err)
		s.metrics.ObserveExport(0, err)
		return err
	}
	data := buf.Bytes()

	var errs []error
	for i, dest := range s.destinations {
		if err := dest.Write(ctx, data); err != nil {
			s.logger.Error("export destination write failed", "destination", destinationName(i, dest), "err", err)
			errs = append(errs, err)
		}
	}
	err = errors.Join(errs...)
	s.metrics.ObserveExport(n, err)
	if err != nil {
		return err
	}

	s.logger.Info("export completed", "destinations", len(s.destinations), "searches", n, "bytes", len(data))
	return nil
}

func destinationName(i int, dest Destination) string {
	if s, ok := dest.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%d", i)
}
