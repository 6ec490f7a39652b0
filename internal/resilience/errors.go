package resilience

import (
	"errors"
	"net"
	"syscall"

	"github.com/nutriflow/nutrition-core/internal/source"
)

// IsTransient reports whether a source failure is worth retrying. Timeouts
// and rate limits pass; not-found and malformed answers will not get better
// on a second ask.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var se *source.Error
	if errors.As(err, &se) {
		return se.Kind == source.KindTimeout || se.Kind == source.KindRateLimited
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED)
}
