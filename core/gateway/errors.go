package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrEmptyClip    = errors.New("audio clip is empty")
	ErrClipTooLarge = fmt.Errorf("audio clip exceeds %d bytes", MaxUploadSize)
	ErrEmptyText    = errors.New("text is empty")
)

// NetworkError is returned for any failed exchange with the backend: a non-2xx
// status (StatusCode and Body set) or a transport failure (Err set).
type NetworkError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *NetworkError) Error() string {
	switch {
	case e.Err != nil && e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Body != "":
		return fmt.Sprintf("%s: %d %s: %s", e.Op, e.StatusCode, http.StatusText(e.StatusCode), e.Body)
	default:
		return fmt.Sprintf("%s: %d %s", e.Op, e.StatusCode, http.StatusText(e.StatusCode))
	}
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IsStatus reports whether err is a NetworkError carrying the given status.
func IsStatus(err error, status int) bool {
	var networkErr *NetworkError
	return errors.As(err, &networkErr) && networkErr.StatusCode == status
}
