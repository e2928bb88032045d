package rtc

import (
	"errors"
	"fmt"
)

// ErrNegotiationFailed is wrapped into peer failure reports once the single
// automatic ICE restart has been exhausted or the negotiation timed out.
var ErrNegotiationFailed = errors.New("rtc: negotiation failed")

// MicErrorKind distinguishes microphone activation failures so callers can
// show a precise remedy instead of a generic error.
type MicErrorKind string

const (
	MicPermissionDenied    MicErrorKind = "permission_denied"
	MicDeviceNotFound      MicErrorKind = "device_not_found"
	MicDeviceBusy          MicErrorKind = "device_busy"
	MicPlatformUnsupported MicErrorKind = "platform_unsupported"
	MicNotAuthorized       MicErrorKind = "not_authorized"
)

// MicError is returned by the local media controller. Kind is always set;
// Err carries the underlying platform error when there is one.
type MicError struct {
	Kind MicErrorKind
	Err  error
}

func (e *MicError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("rtc: microphone %s", e.Kind)
	}
	return fmt.Sprintf("rtc: microphone %s: %v", e.Kind, e.Err)
}

func (e *MicError) Unwrap() error {
	return e.Err
}

// AsMicError unwraps err into a *MicError if one is in its chain.
func AsMicError(err error) (*MicError, bool) {
	var me *MicError
	if errors.As(err, &me) {
		return me, true
	}
	return nil, false
}
