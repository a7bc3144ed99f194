package fleetclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Error codes returned by the daemon.
const (
	CodeNotFound          = "not_found"
	CodeAlreadyExists     = "already_exists"
	CodeInvalidArgument   = "invalid_argument"
	CodeDeviceBusy        = "device_busy"
	CodeDeviceOffline     = "device_offline"
	CodeInvalidTransition = "invalid_transition"
)

// ErrStatusRegression is returned by PollAction when the daemon reports an
// action status that moves backwards.
var ErrStatusRegression = errors.New("fleetclient: action status regressed")

// Error is an error response from the daemon with its HTTP status code.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("fleetclient: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a not_found response.
func IsNotFound(err error) bool {
	return hasCode(err, CodeNotFound)
}

// IsAlreadyExists reports whether err is an already_exists response.
func IsAlreadyExists(err error) bool {
	return hasCode(err, CodeAlreadyExists)
}

// IsDeviceBusy reports whether err is a device_busy response.
func IsDeviceBusy(err error) bool {
	return hasCode(err, CodeDeviceBusy)
}

// IsInvalidArgument reports whether err is an invalid_argument response.
func IsInvalidArgument(err error) bool {
	return hasCode(err, CodeInvalidArgument)
}

func hasCode(err error, code string) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

func parseErrorResponse(status int, body []byte) error {
	var payload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Code == "" {
		return &Error{
			StatusCode: status,
			Code:       http.StatusText(status),
			Message:    string(body),
		}
	}
	return &Error{StatusCode: status, Code: payload.Code, Message: payload.Message}
}
