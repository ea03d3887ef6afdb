package channel

import "fmt"

// ConfigError reports a missing or invalid required configuration field.
// It is fatal at Initialize; the adapter never starts.
type ConfigError struct {
	Channel string
	Field   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: missing required config field %q", e.Channel, e.Field)
}

// NewConfigError builds a ConfigError naming the offending field.
func NewConfigError(channel, field string) *ConfigError {
	return &ConfigError{Channel: channel, Field: field}
}

// AuthError reports a credential fetch or refresh failure. It is fatal
// for the current send/connect attempt and must not be swallowed.
type AuthError struct {
	Channel string
	Err     error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: credential fetch failed: %v", e.Channel, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// TransportError reports a dropped socket or connection. It triggers the
// adapter's own reconnect policy and never propagates to the registry.
type TransportError struct {
	Channel string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport failure: %v", e.Channel, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError reports a malformed or unverifiable payload. The single
// event is dropped and logged; the connection stays up.
type DecodeError struct {
	Channel string
	Reason  string
	Err     error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: decode failed (%s): %v", e.Channel, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: decode failed (%s)", e.Channel, e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// HandlerError reports that the router or agent failed while processing
// one message. Adapters convert it into a user-visible retry reply where
// the platform supports a synchronous reply path.
type HandlerError struct {
	Channel string
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("%s: handler failed: %v", e.Channel, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }
