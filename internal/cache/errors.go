package cache

import (
	"github.com/jmgilman/go/errors"
)

var errNotOpened = errors.New(errors.CodeUnavailable, "tile store was closed before it opened")

// unavailable marks a failed open. Every later operation returns it.
func unavailable(err error) error {
	return errors.Wrap(err, errors.CodeUnavailable, "tile store unavailable")
}

// ioError reports a failed read or write of a single operation. It is retryable.
func ioError(err error, op, key string) error {
	ctx := map[string]interface{}{"op": op}
	if key != "" {
		ctx["key"] = key
	}
	return errors.WrapWithContext(err, errors.CodeDatabase, "tile store "+op+" failed", ctx)
}

// IsUnavailable reports whether err means the store never opened.
func IsUnavailable(err error) bool {
	return errors.GetCode(err) == errors.CodeUnavailable
}

// IsIOError reports whether err is a failed store read or write.
func IsIOError(err error) bool {
	return errors.GetCode(err) == errors.CodeDatabase
}
