package querycache

import (
	"errors"
	"fmt"
)

var (
	ErrClosed             = errors.New("querycache: client closed")
	ErrUnsupportedTrigger = errors.New("querycache: trigger cannot be emitted externally")
)

// ConfigError reports an invalid Options or Config value.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("querycache: invalid %s: %s", e.Field, e.Reason)
}

// PanicError wraps a value recovered from a fetch or mutator call.
type PanicError struct {
	Key   string
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("querycache: %q panicked: %v", e.Key, e.Value)
}

func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
