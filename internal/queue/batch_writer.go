package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/smukkama/sensor-dashboard/internal/database"
	"github.com/smukkama/sensor-dashboard/internal/logging"
	"github.com/smukkama/sensor-dashboard/internal/protocol"
)

// ReadingArchive stores decoded readings
type ReadingArchive interface {
	InsertReadings(ctx context.Context, readings []*database.ArchivedReading) (int, error)
}

// messageSource is the consumer side used by the batch writer
type messageSource interface {
	Consume(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msgs ...kafka.Message) error
}

// BatchWriter consumes the reading stream and batch-writes it to the archive
type BatchWriter struct {
	consumer      messageSource
	archive       ReadingArchive
	batchSize     int
	flushInterval time.Duration
	stopCh        chan struct{}
	wg            sync.WaitGroup
}

// NewBatchWriter creates a new batch writer
func NewBatchWriter(consumer messageSource, archive ReadingArchive, batchSize int, flushInterval time.Duration) *BatchWriter {
	return &BatchWriter{
		consumer:      consumer,
		archive:       archive,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		stopCh:        make(chan struct{}),
	}
}

// Start begins consuming and writing to the archive
func (bw *BatchWriter) Start(ctx context.Context) {
	bw.wg.Add(1)
	go bw.run(ctx)
}

// Stop flushes the pending batch and stops the writer
func (bw *BatchWriter) Stop() {
	close(bw.stopCh)
	bw.wg.Wait()
}

func (bw *BatchWriter) run(ctx context.Context) {
	defer bw.wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var batch []kafka.Message
	ticker := time.NewTicker(bw.flushInterval)
	defer ticker.Stop()

	msgChan := make(chan kafka.Message, bw.batchSize)
	go func() {
		for {
			msg, err := bw.consumer.Consume(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logging.Error().Err(err).Msg("consumer error")
				time.Sleep(time.Second)
				continue
			}
			select {
			case msgChan <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	// in is nil while a full batch waits on the archive, which pauses
	// consumption until the retry on the next tick succeeds
	in := msgChan
	for {
		select {
		case <-bw.stopCh:
			if err := bw.flush(context.Background(), batch); err != nil {
				logging.Warn().Int("batch", len(batch)).Msg("stopping with unarchived batch; offsets left uncommitted")
			}
			return

		case <-ctx.Done():
			return

		case <-ticker.C:
			if len(batch) > 0 && bw.flush(ctx, batch) == nil {
				batch = nil
			}

		case msg := <-in:
			batch = append(batch, msg)
			if len(batch) >= bw.batchSize && bw.flush(ctx, batch) == nil {
				batch = nil
			}
		}

		if len(batch) >= bw.batchSize {
			in = nil
		} else {
			in = msgChan
		}
	}
}

// flush archives and commits batch. On error nothing is committed and the
// caller keeps the batch for a retry.
func (bw *BatchWriter) flush(ctx context.Context, batch []kafka.Message) error {
	if len(batch) == 0 {
		return nil
	}

	readings := make([]*database.ArchivedReading, 0, len(batch))
	for _, msg := range batch {
		r, err := decodeArchived(msg)
		if err != nil {
			// Undecodable messages are dropped; their offsets are still committed below
			logging.Warn().Err(err).Int64("offset", msg.Offset).Msg("skipping message")
			continue
		}
		readings = append(readings, r)
	}

	inserted, err := bw.archive.InsertReadings(ctx, readings)
	if err != nil {
		logging.Error().Err(err).Int("batch", len(batch)).Msg("failed to archive batch")
		return fmt.Errorf("failed to archive batch: %w", err)
	}

	if err := bw.consumer.Commit(ctx, batch...); err != nil {
		logging.Error().Err(err).Msg("failed to commit offsets")
		return fmt.Errorf("failed to commit offsets: %w", err)
	}

	logging.Info().Int("batch", len(batch)).Int("inserted", inserted).Msg("flushed readings")
	return nil
}

func decodeArchived(msg kafka.Message) (*database.ArchivedReading, error) {
	rm, err := protocol.DecodeReadingMessage(msg.Value)
	if err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	if rm.Device == "" {
		return nil, errors.New("message has no device")
	}
	if !rm.Reading.HasTimestamp() {
		return nil, errors.New("reading has no timestamp")
	}

	return &database.ArchivedReading{
		Device:      rm.Device,
		Timestamp:   rm.Reading.Timestamp,
		Temperature: rm.Reading.Temperature,
		Humidity:    rm.Reading.Humidity,
		Pressure:    rm.Reading.Pressure,
		ReceivedAt:  rm.ReceivedAt,
	}, nil
}
