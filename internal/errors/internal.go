package errors

import "fmt"

// InternalError marks a violated backend invariant. It is raised with panic
// and must never be turned into a user-facing diagnostic silently.
type InternalError struct {
	Message string
}

func (e *InternalError) Error() string {
	return "internal compiler error: " + e.Message
}

// ICE panics with an InternalError.
func ICE(format string, args ...interface{}) {
	panic(&InternalError{Message: fmt.Sprintf(format, args...)})
}

// RecoverInternal converts an InternalError panic raised inside fn into an
// error. Any other panic is re-raised.
func RecoverInternal(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			ice, ok := r.(*InternalError)
			if !ok {
				panic(r)
			}
			err = ice
		}
	}()
	return fn()
}
