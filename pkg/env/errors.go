package env

import "github.com/cuemby/actorkit/pkg/kerr"

// Re-exported stable error codes, per the external-interfaces contract:
// callers check these with errors.Is without importing pkg/kerr directly.
var (
	ErrNamedDispNotFound      = kerr.ErrNamedDispNotFound
	ErrDispTypeMismatch       = kerr.ErrDispTypeMismatch
	ErrNoSvcHandlers          = kerr.ErrNoSvcHandlers
	ErrMoreThanOneSvcHandler  = kerr.ErrMoreThanOneSvcHandler
	ErrTooManyReceivers       = kerr.ErrTooManyReceivers
	ErrServiceRequestTimeout  = kerr.ErrServiceRequestTimeout
	ErrMsgDeliveryOverflow    = kerr.ErrMsgDeliveryOverflow
	ErrCoopRegistrationFailed = kerr.ErrCoopRegistrationFailed
	ErrMutablePeriodicMsg     = kerr.ErrMutablePeriodicMsg
)
