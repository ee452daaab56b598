package camera

import (
	"fmt"
	"time"

	"nanit/internal/proto"
)

// RequestTimeoutError is raised when a request does not receive a
// correlated response within its timeout.
type RequestTimeoutError struct {
	RequestType proto.RequestType
	RequestID   uint32
	Timeout     time.Duration
}

func (e *RequestTimeoutError) Error() string {
	return fmt.Sprintf("camera: request %s (id=%d) timed out after %s", e.RequestType, e.RequestID, e.Timeout)
}

// CameraUnavailableError is raised when Start cannot reach the camera via
// any transport.
type CameraUnavailableError struct {
	UID string
	Err error
}

func (e *CameraUnavailableError) Error() string {
	return fmt.Sprintf("camera: cannot reach camera %s via any transport: %v", e.UID, e.Err)
}

func (e *CameraUnavailableError) Unwrap() error { return e.Err }
