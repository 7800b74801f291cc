package hardware

import "fmt"

// LifecycleError is returned for commands a driver cannot accept in its
// current state: anything after Shutdown, or a drive command on a disabled
// driver when strict enabling is configured.
type LifecycleError struct {
	error
}

func (err LifecycleError) Is(target error) bool {
	_, ok := target.(LifecycleError)
	return ok
}

func (err LifecycleError) Unwrap() error { return err.error }

// Lifecyclef formats a LifecycleError. It wraps like fmt.Errorf.
func Lifecyclef(format string, a ...interface{}) error {
	return LifecycleError{fmt.Errorf(format, a...)}
}
