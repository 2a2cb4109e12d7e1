// Package async wraps a ledger.Store with write-behind batching so that
// recording usage never sits on the request path's critical section.
// Queued records may be lost if the process crashes before a flush.
package async

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/polariscompute/polaris-gateway/internal/ledger"
)

// Store queues usage records in memory and writes them in batches.
type Store struct {
	underlying    ledger.Store
	recordChan    chan ledger.UsageRecord
	batchSize     int
	flushInterval time.Duration
	wg            sync.WaitGroup
	stopChan      chan struct{}
}

// Config configures the write-behind behaviour.
type Config struct {
	// BatchSize is the maximum records per flush (default 100).
	BatchSize int
	// FlushInterval is the maximum time between flushes (default 1s).
	FlushInterval time.Duration
	// ChannelBuffer is the queue capacity (default 10000). When the
	// queue is full new records are dropped, never blocked on.
	ChannelBuffer int
	// NumWorkers is the number of parallel batch writers (default 1).
	NumWorkers int
}

// New wraps an existing usage store with async batch writing.
func New(underlying ledger.Store, cfg Config) *Store {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.ChannelBuffer <= 0 {
		cfg.ChannelBuffer = 10000
	}
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 1
	}

	s := &Store{
		underlying:    underlying,
		recordChan:    make(chan ledger.UsageRecord, cfg.ChannelBuffer),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		stopChan:      make(chan struct{}),
	}
	for i := 0; i < cfg.NumWorkers; i++ {
		s.wg.Add(1)
		go s.batchWriter(i)
	}
	log.Debug().
		Int("workers", cfg.NumWorkers).
		Int("batch_size", cfg.BatchSize).
		Dur("flush_interval", cfg.FlushInterval).
		Msg("async usage store started")
	return s
}

func (s *Store) batchWriter(workerID int) {
	defer s.wg.Done()

	batch := make([]ledger.UsageRecord, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx := context.Background()
		for _, rec := range batch {
			if err := s.underlying.Record(ctx, rec); err != nil {
				log.Error().Err(err).Int("worker", workerID).Str("principal_id", rec.PrincipalID).Msg("async usage write failed")
			}
		}
		batch = batch[:0]
	}

	for {
		select {
		case rec := <-s.recordChan:
			batch = append(batch, rec)
			if len(batch) >= s.batchSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-s.stopChan:
			// Drain whatever is queued without closing the channel;
			// other workers may still be reading from it.
			for {
				select {
				case rec := <-s.recordChan:
					batch = append(batch, rec)
					if len(batch) >= s.batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// Record queues a record for asynchronous writing. Never blocks; when
// the queue is full the record is dropped with a warning.
func (s *Store) Record(_ context.Context, rec ledger.UsageRecord) error {
	select {
	case s.recordChan <- rec:
		return nil
	default:
		log.Warn().Str("principal_id", rec.PrincipalID).Msg("usage queue full, dropping record")
		return nil
	}
}

// ListRange delegates to the underlying store. Records still queued are
// not visible until flushed.
func (s *Store) ListRange(ctx context.Context, principalID string, from, to time.Time) ([]ledger.UsageRecord, error) {
	return s.underlying.ListRange(ctx, principalID, from, to)
}

// Close flushes remaining records and closes the underlying store.
func (s *Store) Close() error {
	close(s.stopChan)
	s.wg.Wait()
	return s.underlying.Close()
}
