package magento

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingCredentials indicates the node has no api user/key configured
	ErrMissingCredentials = errors.New("magento: api credentials are required")
	// ErrAuthFailed indicates the remote rejected the login
	ErrAuthFailed = errors.New("magento: authentication failed")
	// ErrUnavailable indicates the endpoint could not be reached
	ErrUnavailable = errors.New("magento: endpoint unavailable")
	// ErrInvalidResponse indicates the response payload could not be decoded
	ErrInvalidResponse = errors.New("magento: invalid response payload")
)

// Fault is a remote-side rejection of an RPC operation. It carries the
// original code and message plus the raw request/response bodies so
// callers can log full diagnostics.
type Fault struct {
	Code         int
	Message      string
	Operation    string
	RequestBody  string
	ResponseBody string
}

// Error implements the error interface
func (f *Fault) Error() string {
	return fmt.Sprintf("magento: fault %d on %s: %s", f.Code, f.Operation, f.Message)
}

// IsSessionExpired reports whether an error is a remote fault caused by
// a stale session token. Matching is on the fault text because the
// remote does not use a dedicated code for it.
func IsSessionExpired(err error) bool {
	var fault *Fault
	if !errors.As(err, &fault) {
		return false
	}
	msg := strings.ToLower(fault.Message)
	return strings.Contains(msg, "session expired") || strings.Contains(msg, "try to relogin")
}
