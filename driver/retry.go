package driver

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mdwoicke/dentix-ortho-sub013/logger"
)

// Rate-limit handling for prediction endpoints. A 429 is retried after the
// server-advertised delay, bounded so a hostile header cannot stall a step
// past its deadline.
const (
	maxRateLimitRetries = 2
	defaultRetryAfter   = 2 * time.Second
	maxRetryAfter       = 30 * time.Second
)

// retryAfterDelay extracts the retry delay from a 429 response. Azure-style
// endpoints send retry-after-ms (milliseconds, more precise) alongside the
// standard Retry-After (seconds or HTTP-date); the former wins when present.
func retryAfterDelay(header http.Header) time.Duration {
	if msValue := header.Get("retry-after-ms"); msValue != "" {
		if ms, err := strconv.Atoi(strings.TrimSpace(msValue)); err == nil && ms > 0 {
			return clampRetryAfter(time.Duration(ms) * time.Millisecond)
		}
	}
	return clampRetryAfter(parseRetryAfterHeader(header.Get("Retry-After")))
}

// parseRetryAfterHeader handles both integer-seconds and HTTP-date forms.
func parseRetryAfterHeader(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	for _, format := range []string{time.RFC1123, time.RFC1123Z} {
		if t, err := time.Parse(format, value); err == nil {
			if d := time.Until(t); d > 0 {
				return d
			}
			// a date in the past still means back off, just minimally
			return time.Second
		}
	}

	logger.Logger.Warn("Could not parse Retry-After header", "value", value)
	return 0
}

func clampRetryAfter(d time.Duration) time.Duration {
	if d <= 0 {
		return defaultRetryAfter
	}
	if d > maxRetryAfter {
		return maxRetryAfter
	}
	return d
}
