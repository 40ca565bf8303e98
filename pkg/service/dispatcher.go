package service

import (
	"runtime"
	"sync"
)

// Sink receives committed transitions, e.g. a mail gateway or a webhook
// forwarder. Delivery errors are logged and dropped; ordering and retries
// are the sink's own concern.
type Sink interface {
	Deliver(t Transition) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(t Transition) error

func (f SinkFunc) Deliver(t Transition) error { return f(t) }

// Dispatcher fans committed transitions out to registered sinks on a pool of
// worker goroutines. It implements Notifier; OnTransition never blocks the
// engine: when the buffer is full the transition is dropped and logged.
type Dispatcher struct {
	logger Logger

	mu    sync.RWMutex
	sinks []Sink

	ch chan Transition
	wg sync.WaitGroup
}

func NewDispatcher(logger Logger, buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = 64
	}
	return &Dispatcher{
		logger: logger,
		ch:     make(chan Transition, buffer),
	}
}

// RegisterSink adds a delivery target. Safe to call while running.
func (d *Dispatcher) RegisterSink(sink Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks = append(d.sinks, sink)
}

// Start launches the worker goroutines.
func (d *Dispatcher) Start(workers int) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

// Stop drains the queue and waits for in-flight deliveries.
func (d *Dispatcher) Stop() {
	close(d.ch)
	d.wg.Wait()
}

// OnTransition enqueues a transition for delivery.
func (d *Dispatcher) OnTransition(t Transition) {
	select {
	case d.ch <- t:
	default:
		d.logger.Errorf("Notification buffer full, dropping transition for run %s (%s -> %s)", t.RunID, t.FromStage, t.ToStage)
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for t := range d.ch {
		d.mu.RLock()
		sinks := make([]Sink, len(d.sinks))
		copy(sinks, d.sinks)
		d.mu.RUnlock()
		for _, sink := range sinks {
			if err := sink.Deliver(t); err != nil {
				d.logger.Errorf("Failed to deliver transition for run %s (%s -> %s): %v", t.RunID, t.FromStage, t.ToStage, err)
			}
		}
	}
}
