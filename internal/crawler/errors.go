package crawler

import (
	"errors"
	"fmt"
	"time"
)

// ErrJobStopped is returned by CheckJobStillActive once a job is canceled.
var ErrJobStopped = errors.New("job is no longer active")

// ErrBadConfiguration marks a permanent connection or specification problem.
var ErrBadConfiguration = errors.New("bad configuration")

// ErrConnectorNotRegistered is returned for an unknown connector class name.
var ErrConnectorNotRegistered = errors.New("connector not registered")

// ServiceInterruption is a transient repository failure. The runner retries
// the work at RetryAt and gives up once FailAt passes.
type ServiceInterruption struct {
	Message string
	Cause   error
	RetryAt time.Time
	// FailAt is zero when the work may be retried indefinitely.
	FailAt time.Time
	// FailCount bounds the retries when > 0.
	FailCount int
	// AbortOnFail aborts the whole job instead of skipping the document.
	AbortOnFail bool
}

// NewServiceInterruption builds an interruption retried after retryIn and
// abandoned after failIn, both measured from now.
func NewServiceInterruption(msg string, cause error, now time.Time, retryIn, failIn time.Duration) *ServiceInterruption {
	si := &ServiceInterruption{
		Message: msg,
		Cause:   cause,
		RetryAt: now.Add(retryIn),
	}
	if failIn > 0 {
		si.FailAt = now.Add(failIn)
	}
	return si
}

func (e *ServiceInterruption) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("service interruption: %s: %v", e.Message, e.Cause)
	}
	return "service interruption: " + e.Message
}

func (e *ServiceInterruption) Unwrap() error {
	return e.Cause
}

// Expired reports whether the retry window has closed at now.
func (e *ServiceInterruption) Expired(now time.Time) bool {
	return !e.FailAt.IsZero() && !now.Before(e.FailAt)
}

// AsServiceInterruption unwraps err into a *ServiceInterruption.
func AsServiceInterruption(err error) (*ServiceInterruption, bool) {
	var si *ServiceInterruption
	if errors.As(err, &si) {
		return si, true
	}
	return nil, false
}
