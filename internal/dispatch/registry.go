// Package dispatch routes inbound bus messages to the handlers registered
// for the topic filters they match.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/telhawk-systems/deploydash/common/logging"
	"github.com/telhawk-systems/deploydash/common/messaging"
	"github.com/telhawk-systems/deploydash/common/messaging/topic"
	"github.com/telhawk-systems/deploydash/internal/metrics"
)

// ErrHandlerPanic wraps a panic recovered from a handler.
var ErrHandlerPanic = errors.New("handler panicked")

// Handler processes one message delivered for a matching filter. captures
// holds the topic segments that lined up with the filter's wildcards.
type Handler func(ctx context.Context, payload string, captures []string) error

// Subscription pairs a filter with the handler that serves it.
type Subscription struct {
	Filter  string
	Handler Handler
}

type entry struct {
	filter  topic.Filter
	handler Handler
}

// Registry holds at most one handler per distinct filter, in registration
// order. Registering a filter again replaces its handler and keeps its
// position.
type Registry struct {
	subscriber messaging.Subscriber
	logger     *slog.Logger

	mu      sync.RWMutex
	entries []*entry
	index   map[string]*entry
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used to report handler failures.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates a Registry that subscribes each registered filter on
// subscriber. subscriber may be nil for purely local dispatch.
func NewRegistry(subscriber messaging.Subscriber, opts ...Option) *Registry {
	r := &Registry{
		subscriber: subscriber,
		logger:     logging.Component("dispatch"),
		index:      make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds or replaces the handler for filter and subscribes the
// filter on the transport. The registration is kept even when the
// transport subscription fails; the error is returned to the caller.
func (r *Registry) Register(filter string, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("register %s: nil handler", filter)
	}
	parsed, err := topic.ParseFilter(filter)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if e, ok := r.index[filter]; ok {
		e.handler = handler
	} else {
		e := &entry{filter: parsed, handler: handler}
		r.entries = append(r.entries, e)
		r.index[filter] = e
	}
	r.mu.Unlock()

	if r.subscriber == nil {
		return nil
	}
	if err := r.subscriber.Subscribe(filter); err != nil {
		return fmt.Errorf("subscribe %s: %w", filter, err)
	}
	return nil
}

// RegisterAll registers every subscription in order. It stops at the first
// invalid filter but keeps going past transport subscribe failures, which
// are joined into the returned error.
func (r *Registry) RegisterAll(subs []Subscription) error {
	var errs []error
	for _, sub := range subs {
		if err := r.Register(sub.Filter, sub.Handler); err != nil {
			if errors.Is(err, topic.ErrInvalidFilter) {
				return err
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Clear drops every registration.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
	r.index = make(map[string]*entry)
}

// Filters returns the registered filters in registration order.
func (r *Registry) Filters() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	filters := make([]string, len(r.entries))
	for i, e := range r.entries {
		filters[i] = e.filter.String()
	}
	return filters
}

// Len returns the number of registrations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Dispatch delivers payload to every handler whose filter matches
// topicName, in registration order. A failing or panicking handler does not
// stop delivery to the rest; failures are logged and returned joined.
// Dispatch returns the number of handlers invoked.
func (r *Registry) Dispatch(ctx context.Context, topicName string, payload []byte) (int, error) {
	metrics.MessagesReceived.Inc()

	r.mu.RLock()
	entries := make([]entry, len(r.entries))
	for i, e := range r.entries {
		entries[i] = *e
	}
	r.mu.RUnlock()

	ctx = logging.ContextWithTopic(ctx, topicName)
	body := string(payload)

	delivered := 0
	var errs []error
	for _, e := range entries {
		captures, ok := e.filter.Match(topicName)
		if !ok {
			continue
		}
		delivered++
		filter := e.filter.String()
		metrics.HandlerDeliveries.WithLabelValues(filter).Inc()

		if err := invoke(ctx, e.handler, body, captures); err != nil {
			metrics.HandlerFailures.WithLabelValues(filter).Inc()
			r.logger.Warn("Subscription handler failed",
				logging.Topic(topicName),
				logging.Filter(filter),
				logging.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", filter, err))
		}
	}

	if delivered == 0 {
		metrics.MessagesUnmatched.Inc()
		r.logger.Debug("No subscription matched message", logging.Topic(topicName))
	}
	return delivered, errors.Join(errs...)
}

func invoke(ctx context.Context, h Handler, payload string, captures []string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, rec)
		}
	}()
	return h(ctx, payload, captures)
}
