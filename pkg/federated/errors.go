package federated

import "errors"

var (
	ErrInvalidTransition = errors.New("invalid pipeline transition")
	ErrClosed            = errors.New("manager is closed")
	ErrMissingDependency = errors.New("missing manager dependency")
	ErrInvalidConfig     = errors.New("invalid manager configuration")
)
