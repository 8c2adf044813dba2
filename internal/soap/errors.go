package soap

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// Class groups transport failures for retry and history reporting.
type Class string

// Failure classes.
const (
	ClassTimeout Class = "timeout"
	ClassConnect Class = "connect"
	ClassTLS     Class = "tls"
	ClassHTTP    Class = "http"
	ClassOther   Class = "other"
)

// Fault is a soap:Fault returned by the server. Faults are never retried.
type Fault struct {
	Code   string
	String string
	// Detail is the raw inner XML of the detail element.
	Detail string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("soap fault %s: %s", f.Code, f.String)
}

// Contains reports whether the fault string or detail mentions s.
func (f *Fault) Contains(s string) bool {
	return strings.Contains(f.String, s) || strings.Contains(f.Detail, s)
}

// AsFault unwraps err into a *Fault.
func AsFault(err error) (*Fault, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// TransportError is a failure to exchange a message with the server.
type TransportError struct {
	Class  Class
	Action string
	// Status is the HTTP status for ClassHTTP, else 0.
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("soap %s: %s: %v", e.Action, e.Class, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Retryable reports whether repeating the call may succeed.
func (e *TransportError) Retryable() bool {
	switch e.Class {
	case ClassTimeout, ClassConnect, ClassTLS:
		return true
	case ClassHTTP:
		return e.Status >= 500
	default:
		return false
	}
}

// AsTransportError unwraps err into a *TransportError.
func AsTransportError(err error) (*TransportError, bool) {
	var te *TransportError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// Classify maps a network error onto a Class.
func Classify(err error) Class {
	if err == nil {
		return ClassOther
	}
	if te, ok := AsTransportError(err); ok {
		return te.Class
	}
	var (
		recordErr  tls.RecordHeaderError
		certErr    *tls.CertificateVerificationError
		unknownCA  x509.UnknownAuthorityError
		hostErr    x509.HostnameError
		invalidErr x509.CertificateInvalidError
	)
	switch {
	case errors.As(err, &recordErr), errors.As(err, &certErr), errors.As(err, &unknownCA),
		errors.As(err, &hostErr), errors.As(err, &invalidErr):
		return ClassTLS
	case strings.Contains(err.Error(), "tls: "):
		return ClassTLS
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return ClassConnect
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ClassConnect
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return ClassConnect
	}
	return ClassOther
}
