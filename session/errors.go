package session

import (
	"errors"
	"fmt"
)

var (
	AlreadyAuthenticatedErr = errors.New("already authenticated")
	NotAuthenticatedErr     = errors.New("not authenticated")
	LoginRejectedErr        = errors.New("login rejected")
	IdentityFetchErr        = errors.New("identity fetch failed")
	RefreshFailedErr        = errors.New("token refresh failed")
)

// Rejection is returned by Backend implementations when the server
// explicitly refused the request (bad credentials, expired refresh token),
// as opposed to a transport failure. The Message is the server's own
// explanation and is safe to surface to the caller.
type Rejection struct {
	Message string
}

func (r *Rejection) Error() string {
	if r.Message == "" {
		return "request rejected"
	}
	return fmt.Sprintf("request rejected: %s", r.Message)
}

// rejectionMessage pulls the server message out of a backend error, falling
// back to the raw error text for transport failures.
func rejectionMessage(err error) string {
	var rejection *Rejection
	if errors.As(err, &rejection) && rejection.Message != "" {
		return rejection.Message
	}
	return err.Error()
}
