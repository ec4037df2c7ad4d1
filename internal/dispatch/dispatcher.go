package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aituberlink/core/domain/entities"
)

const (
	// queueCapacity bounds the hand-off between the connection's message
	// callback and the dispatch worker so a slow generation cannot stall
	// connection-level health polling.
	queueCapacity = 16

	dispatchTimeout = 60 * time.Second
)

// ResultHandler observes dispatch-completed events.
type ResultHandler func(result entities.DispatchResult)

// Dispatcher decodes raw broker messages and feeds them to the policy
// through a single bounded worker, preserving arrival order. No error from
// one message may prevent processing of the next.
type Dispatcher struct {
	policy *Policy
	logger *zap.Logger

	queue chan entities.SpeechPayload

	mu       sync.Mutex
	handlers []ResultHandler
	started  bool
	stop     chan struct{}
	done     chan struct{}
}

// NewDispatcher wraps a policy in a bounded single-worker queue.
func NewDispatcher(policy *Policy, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		policy: policy,
		logger: logger,
		queue:  make(chan entities.SpeechPayload, queueCapacity),
	}
}

// OnResult registers a handler for dispatch-completed events.
func (d *Dispatcher) OnResult(h ResultHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, h)
}

// Start launches the worker. Starting twice is a no-op.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	go d.run(d.stop, d.done)
}

// Stop halts the worker after the in-flight payload finishes. Queued
// payloads are discarded.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	d.started = false
	stop, done := d.stop, d.done
	d.mu.Unlock()

	close(stop)
	<-done
}

// HandleRaw is the broker message callback: decode, then enqueue. Decode
// failures drop the message and leave the connection untouched. A full
// queue drops the newest message rather than blocking the broker callback.
func (d *Dispatcher) HandleRaw(topic string, raw []byte) {
	payload, err := DecodeMessage(raw)
	if err != nil {
		if errors.Is(err, ErrDecode) {
			d.logger.Warn("Dropping malformed message",
				zap.String("topic", topic),
				zap.Error(err))
			return
		}
		d.logger.Error("Decode failed", zap.String("topic", topic), zap.Error(err))
		return
	}

	select {
	case d.queue <- payload:
	default:
		d.logger.Warn("Dispatch queue full, dropping message",
			zap.String("topic", topic),
			zap.String("message_id", payload.ID))
		d.emit(entities.DispatchResult{
			MessageID: payload.ID,
			Error:     "dispatch queue full",
		})
	}
}

// Enqueue hands one already-decoded payload to the worker.
func (d *Dispatcher) Enqueue(payload entities.SpeechPayload) bool {
	select {
	case d.queue <- payload:
		return true
	default:
		return false
	}
}

func (d *Dispatcher) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case payload := <-d.queue:
			ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
			result := d.policy.Dispatch(ctx, payload)
			cancel()

			if result.Success {
				d.logger.Info("Dispatched",
					zap.String("message_id", result.MessageID))
			} else {
				d.logger.Warn("Dispatch failed",
					zap.String("message_id", result.MessageID),
					zap.String("error", result.Error))
			}
			d.emit(result)
		}
	}
}

func (d *Dispatcher) emit(result entities.DispatchResult) {
	d.mu.Lock()
	handlers := make([]ResultHandler, len(d.handlers))
	copy(handlers, d.handlers)
	d.mu.Unlock()

	for _, h := range handlers {
		h(result)
	}
}
