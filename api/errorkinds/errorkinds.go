// Package errorkinds holds the error values shared by the session and
// transfer layers. Callers compare against them with errors.Is.
package errorkinds

import "errors"

var (
	ErrNotSupported = errors.New("this operation is not supported")
	ErrMethodCall   = errors.New("error occurred while calling a method")

	ErrSessionNotExist = errors.New("the session does not exist")
	ErrSessionActive   = errors.New("another session is already active")
	ErrSessionCreate   = errors.New("cannot create a session with the device")

	ErrServiceNotFound    = errors.New("the requested service was not found on the device")
	ErrLocatorUnavailable = errors.New("the device list is not available")

	ErrTransferTimeout = errors.New("the transfer did not complete in time")
	ErrTransferFailed  = errors.New("the transfer failed")
	ErrTransferFile    = errors.New("the transfer result file cannot be read")
)
