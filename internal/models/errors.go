package models

import "github.com/pkg/errors"

var (
	// ErrFormat is returned for input that cannot be parsed: unknown magic
	// bytes, a malformed transform line or a missing header attribute.
	ErrFormat = errors.New("format error")

	// ErrConfiguration is returned when sizes or channel counts do not fit
	// the requested operation.
	ErrConfiguration = errors.New("configuration error")
)

// FormatErrorf wraps ErrFormat with a formatted message.
func FormatErrorf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrFormat, format, args...)
}

// ConfigErrorf wraps ErrConfiguration with a formatted message.
func ConfigErrorf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrConfiguration, format, args...)
}
