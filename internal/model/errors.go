package model

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyInput           = errors.New("empty input")
	ErrSubmissionInProgress = errors.New("submission already in progress")
	ErrChatDoesNotExist     = errors.New("chat does not exist")
	ErrInvalidRole          = errors.New("invalid message role")
)

// UpstreamStatusError carries a non-success upstream response verbatim.
type UpstreamStatusError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("upstream responded with status %d: %s", e.StatusCode, e.Body)
}

// UpstreamRequestError is a transport failure before any upstream status was received.
type UpstreamRequestError struct {
	Err error
}

func (e *UpstreamRequestError) Error() string {
	return fmt.Sprintf("upstream request failed: %v", e.Err)
}

func (e *UpstreamRequestError) Unwrap() error {
	return e.Err
}
