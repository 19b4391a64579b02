package qjs

import "fmt"

// ErrNotInitialized an operation was called before Install or after teardown
var ErrNotInitialized = fmt.Errorf("the bridge is not initialized")

// EvaluationError the engine reported a script-level failure. Carries the
// engine diagnostic, never fatal to the process.
type EvaluationError struct {
	Script  string // the script name, <input> when the source is anonymous
	Message string // the engine diagnostic
	Stack   string // the script stack trace, mapped through the source map when one exists
}

func (err *EvaluationError) Error() string {
	if err.Stack != "" {
		return fmt.Sprintf("%s: %s\n%s", err.Script, err.Message, err.Stack)
	}
	return fmt.Sprintf("%s: %s", err.Script, err.Message)
}
