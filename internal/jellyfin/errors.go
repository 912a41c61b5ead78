package jellyfin

import "fmt"

type (
	// FailedRequestError indicates the Jellyfin server answered with a
	// non-2xx status code.
	FailedRequestError struct {
		HTTPCode int
		Message  string
	}

	NotFoundError       struct{ ItemID string }
	UnknownRequestError struct{ reason string }
	IllegalRequestError struct{ reason string }
	UnauthorizedError   struct{}
)

func (err *FailedRequestError) Error() string {
	return fmt.Sprintf("request failure (HTTP %d): %s", err.HTTPCode, err.Message)
}

func (err *NotFoundError) Error() string {
	return fmt.Sprintf("no item with ID %s known to the server", err.ItemID)
}

func (err *UnknownRequestError) Error() string {
	return fmt.Sprintf("unknown error occurred while communicating with Jellyfin: %s", err.reason)
}

func (err *IllegalRequestError) Error() string {
	return fmt.Sprintf("illegal request because %s", err.reason)
}

func (err *UnauthorizedError) Error() string {
	return "Jellyfin rejected the clients credentials or access token"
}
