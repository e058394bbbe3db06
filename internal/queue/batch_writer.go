package queue

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/smukkama/energy-pipeline/internal/database"
	"github.com/smukkama/energy-pipeline/internal/logger"
	"github.com/smukkama/energy-pipeline/internal/protocol"
)

// MessageSource is the consuming side of a topic
type MessageSource interface {
	Consume(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msgs ...kafka.Message) error
}

// IngestStore appends ingested facts
type IngestStore interface {
	InsertReadings(ctx context.Context, readings []*database.Reading) error
	InsertWeatherObservations(ctx context.Context, observations []*database.WeatherObservation) error
}

// BatchWriter consumes ingestion messages from Kafka and batch-writes them to
// the store. Offsets are committed only after the batch is stored.
type BatchWriter struct {
	source        MessageSource
	store         IngestStore
	log           *logger.Logger
	batchSize     int
	flushInterval time.Duration
	stopCh        chan struct{}
	wg            sync.WaitGroup
}

// NewBatchWriter creates a new batch writer
func NewBatchWriter(source MessageSource, store IngestStore, log *logger.Logger, batchSize int, flushInterval time.Duration) *BatchWriter {
	return &BatchWriter{
		source:        source,
		store:         store,
		log:           log,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		stopCh:        make(chan struct{}),
	}
}

// Start begins consuming and writing to the store
func (bw *BatchWriter) Start(ctx context.Context) error {
	bw.wg.Add(1)
	go bw.run(ctx)
	return nil
}

// Stop stops the batch writer gracefully
func (bw *BatchWriter) Stop() {
	close(bw.stopCh)
	bw.wg.Wait()
}

func (bw *BatchWriter) run(ctx context.Context) {
	defer bw.wg.Done()

	var batch []kafka.Message
	ticker := time.NewTicker(bw.flushInterval)
	defer ticker.Stop()

	msgChan := make(chan kafka.Message, bw.batchSize)
	go func() {
		for {
			msg, err := bw.source.Consume(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				bw.log.Warn("consumer error", "error", err)
				continue
			}
			select {
			case msgChan <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	// A failed flush keeps the batch for the next attempt.
	flush := func() {
		if err := bw.flush(ctx, batch); err != nil {
			bw.log.Error("failed to flush batch", "messages", len(batch), "error", err)
			return
		}
		batch = nil
	}

	for {
		select {
		case <-bw.stopCh:
			if len(batch) > 0 {
				flush()
			}
			return

		case <-ctx.Done():
			return

		case <-ticker.C:
			if len(batch) > 0 {
				flush()
			}

		case msg := <-msgChan:
			batch = append(batch, msg)
			if len(batch) >= bw.batchSize {
				flush()
			}
		}
	}
}

// flush stores every decodable message of the batch and commits all offsets.
// Undecodable messages are logged and committed so they are not redelivered.
func (bw *BatchWriter) flush(ctx context.Context, batch []kafka.Message) error {
	if len(batch) == 0 {
		return nil
	}

	var readings []*database.Reading
	var observations []*database.WeatherObservation
	rejected := 0
	for _, msg := range batch {
		parsed, err := protocol.ParseMessage(msg.Value)
		if err != nil {
			rejected++
			bw.log.Warn("rejected message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
			continue
		}
		switch m := parsed.(type) {
		case *protocol.ReadingMessage:
			readings = append(readings, m.ToReading())
		case *protocol.WeatherMessage:
			observations = append(observations, m.ToObservation())
		}
	}

	if len(readings) > 0 {
		if err := bw.store.InsertReadings(ctx, readings); err != nil {
			return err
		}
	}
	if len(observations) > 0 {
		if err := bw.store.InsertWeatherObservations(ctx, observations); err != nil {
			return err
		}
	}

	if err := bw.source.Commit(ctx, batch...); err != nil {
		bw.log.Warn("failed to commit offsets", "error", err)
	}

	bw.log.Info("flushed batch",
		"readings", len(readings),
		"weather", len(observations),
		"rejected", rejected,
	)
	return nil
}
