package paste

import "errors"

var (
	// ErrInvalidInput covers malformed ids and missing content.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidOption is returned for unusable submit options.
	ErrInvalidOption = errors.New("invalid option")
	// ErrTooLarge is returned when content exceeds the size cap.
	ErrTooLarge = errors.New("paste too large")
	// ErrNotFound hides whether a paste was absent, expired, corrupt or
	// already consumed.
	ErrNotFound = errors.New("paste not found")
	// ErrIDExhausted is returned when every generated id collided.
	ErrIDExhausted = errors.New("could not allocate a free paste id")
)

// IsClientError reports whether err is caused by the request rather than
// by the server.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidOption) ||
		errors.Is(err, ErrTooLarge) ||
		errors.Is(err, ErrNotFound)
}
