package generation

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNoCredentials means the category has no configured credentials.
	ErrNoCredentials = errors.New("no generation credentials configured for category")
	// ErrPoolExhausted means every credential of the category failed for this request.
	ErrPoolExhausted = errors.New("all generation credentials failed")
	// ErrEmptyResponse is returned when the backend answers without text.
	ErrEmptyResponse = errors.New("empty response from generation backend")
)

// APIError is a non-2xx reply from the generation backend.
type APIError struct {
	StatusCode int
	Status     string // e.g. RESOURCE_EXHAUSTED
	Message    string
	// RetryAfter is the server-suggested delay, zero when none was given.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("generation api error %d", e.StatusCode)
	if e.Status != "" {
		msg += " " + e.Status
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// retryDelayPattern matches the textual form "retry_delay { seconds: 7 }".
var retryDelayPattern = regexp.MustCompile(`retry_delay\s*\{\s*seconds:\s*(\d+)`)

// RetryDelay reports the server-suggested retry delay carried by err.
// ok is false when err is not a rate-limit signal with a delay.
func RetryDelay(err error) (delay time.Duration, ok bool) {
	if err == nil {
		return 0, false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		rateLimited := apiErr.StatusCode == http.StatusTooManyRequests || apiErr.Status == "RESOURCE_EXHAUSTED"
		if rateLimited && apiErr.RetryAfter > 0 {
			return min(apiErr.RetryAfter, MaxRetryWait), true
		}
	}

	if m := retryDelayPattern.FindStringSubmatch(err.Error()); m != nil {
		// Only a range error is possible after the digit match.
		maxSecs := int(MaxRetryWait / time.Second)
		secs, convErr := strconv.Atoi(m[1])
		if convErr != nil || secs > maxSecs {
			secs = maxSecs
		}
		return time.Duration(secs) * time.Second, true
	}
	return 0, false
}

// parseProtoDuration parses durations such as "5s" or "1.5s" as sent in RetryInfo.
func parseProtoDuration(s string) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0
	}
	return d
}
