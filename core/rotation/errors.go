package rotation

import "errors"

var (
	ErrProvisionerNil   = errors.New("provisioner is required")
	ErrCellNil          = errors.New("tls config cell is required")
	ErrAlreadyStarted   = errors.New("scheduler already started")
	ErrNotStarted       = errors.New("scheduler not started")
	ErrShutdownTimeout  = errors.New("scheduler shutdown timeout exceeded")
	ErrBootstrapFailed  = errors.New("initial certificate provisioning failed")
	ErrRotationInFlight = errors.New("rotation already in progress")
)
