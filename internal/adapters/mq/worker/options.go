// Package worker applies finished rankings to the community standings.
package worker

import (
	"github.com/okian/songrank/pkg/logger"
)

// Option applies a configuration option to the InMemoryWorker.
type Option func(*InMemoryWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *InMemoryWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(l logger.Logger) Option {
	return func(w *InMemoryWorker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithOnProcessed registers a callback run after every event, successful or
// not. Tests use it to wait for the pipeline.
func WithOnProcessed(fn func(Event, error)) Option {
	return func(w *InMemoryWorker) {
		w.onProcessed = fn
	}
}
