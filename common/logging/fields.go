package logging

import "log/slog"

// Common field names for consistent logging across components.
const (
	FieldService   = "service"
	FieldComponent = "component"
	FieldTopic     = "topic"
	FieldFilter    = "filter"
	FieldJob       = "job"
	FieldEnv       = "env"
	FieldState     = "state"
	FieldError     = "error"
	FieldBroker    = "broker"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// Topic returns a slog attribute for a concrete bus topic.
func Topic(topic string) slog.Attr {
	return slog.String(FieldTopic, topic)
}

// Filter returns a slog attribute for a subscription filter.
func Filter(filter string) slog.Attr {
	return slog.String(FieldFilter, filter)
}

// Job returns a slog attribute for a job name.
func Job(name string) slog.Attr {
	return slog.String(FieldJob, name)
}

// Env returns a slog attribute for an environment name.
func Env(name string) slog.Attr {
	return slog.String(FieldEnv, name)
}

// State returns a slog attribute for a connection state.
func State(state string) slog.Attr {
	return slog.String(FieldState, state)
}

// Broker returns a slog attribute for a broker address.
func Broker(addr string) slog.Attr {
	return slog.String(FieldBroker, addr)
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}
