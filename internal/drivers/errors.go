package drivers

import (
	"errors"
	"fmt"
	"net/http"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/smithy-go"
)

var (
	// ErrNotFound is returned when a key does not exist on a site
	ErrNotFound = errors.New("object not found")
	// ErrThrottled marks a throttling-class failure from any backend
	ErrThrottled = errors.New("request throttled")
)

// StatusError carries an HTTP-equivalent status code for backend failures
type StatusError struct {
	Op   string
	Code int
	Err  error
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: status %d", e.Op, e.Code)
}

func (e *StatusError) Unwrap() error { return e.Err }

var throttlingCodes = map[string]bool{
	"429":                      true,
	"503":                      true,
	"Throttling":               true,
	"ThrottlingException":      true,
	"TooManyRequests":          true,
	"TooManyRequestsException": true,
	"SlowDown":                 true,
	"RequestLimitExceeded":     true,
}

var notFoundCodes = map[string]bool{
	"404":       true,
	"NoSuchKey": true,
	"NotFound":  true,
}

// IsThrottling reports whether err belongs to the throttling class
// (HTTP 429/503 or a named throttling code).
func IsThrottling(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrThrottled) {
		return true
	}

	var se *StatusError
	if errors.As(err, &se) && isThrottlingStatus(se.Code) {
		return true
	}

	var re *awshttp.ResponseError
	if errors.As(err, &re) && isThrottlingStatus(re.HTTPStatusCode()) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && throttlingCodes[apiErr.ErrorCode()] {
		return true
	}
	return false
}

// IsNotFound reports whether err means the object is absent
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) {
		return true
	}

	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && notFoundCodes[apiErr.ErrorCode()] {
		return true
	}

	var re *awshttp.ResponseError
	if errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound {
		return true
	}
	return false
}

func isThrottlingStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable
}
