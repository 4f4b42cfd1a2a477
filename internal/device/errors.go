package device

import "errors"

// ConnectionError is the single failure kind of a device call: the strip was
// unreachable, answered with a non-2xx status, or sent malformed JSON.
type ConnectionError struct {
	Op   string // device method, e.g. "set_rgbw"
	Host string
	Err  error
}

func (e *ConnectionError) Error() string {
	return "device " + e.Host + ": " + e.Op + ": " + e.Err.Error()
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsConnectionError reports whether err wraps a *ConnectionError.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}
