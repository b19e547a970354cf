package audit

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Service queues audit records and writes them to a sink from a background
// worker. Recording is non-blocking: a full queue drops the record and
// logs, it never stalls the mutation that produced it.
type Service struct {
	sink   Sink
	clock  Clock
	log    zerolog.Logger
	queue  chan Record
	stopCh chan struct{}
	done   chan struct{}
	closed int32
}

// NewService creates an audit service and starts its worker.
func NewService(sink Sink, clock Clock, log zerolog.Logger, queueSize int) *Service {
	if clock == nil {
		clock = SystemClock{}
	}
	s := &Service{
		sink:   sink,
		clock:  clock,
		log:    log,
		queue:  make(chan Record, queueSize),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.worker()
	return s
}

func (s *Service) worker() {
	defer close(s.done)
	for {
		select {
		case rec := <-s.queue:
			s.write(rec)
		case <-s.stopCh:
			// Drain remaining records before stopping.
			for {
				select {
				case rec := <-s.queue:
					s.write(rec)
				default:
					return
				}
			}
		}
	}
}

func (s *Service) write(rec Record) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.sink.Write(ctx, rec); err != nil {
		s.log.Error().Err(err).Int64("segment_id", rec.SegmentID).Msg("audit: failed to write record")
	}
}

// Record queues an audit record. Records with an empty message are
// silently skipped: message generation returns "" for changes that get no
// standalone entry, such as conditions created together with their
// segment.
func (s *Service) Record(message string, segmentID, projectID int64) {
	if message == "" {
		return
	}
	rec := Record{
		Message:    message,
		SegmentID:  segmentID,
		ProjectID:  projectID,
		OccurredAt: s.clock.Now(),
	}
	select {
	case s.queue <- rec:
	default:
		s.log.Warn().Int64("segment_id", segmentID).Msg("audit: queue full, dropping record")
	}
}

// Close stops the worker after draining the queue. Safe to call more than
// once.
func (s *Service) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}
	close(s.stopCh)
	<-s.done
	return nil
}
