package sandbox

import "fmt"

// OOMError reports the supervised run exceeded its configured memory limit
// (§4.5 "OOM abort").
type OOMError struct {
	LimitMB   int
	ObservedMB float64
}

func (e *OOMError) Error() string {
	return fmt.Sprintf("sandbox memory limit exceeded: observed %.1fMB > limit %dMB", e.ObservedMB, e.LimitMB)
}

// SandboxTimeoutError reports the supervised run exceeded its configured
// wall-clock budget.
type SandboxTimeoutError struct {
	TimeoutSeconds int
}

func (e *SandboxTimeoutError) Error() string {
	return fmt.Sprintf("sandbox run exceeded %ds timeout", e.TimeoutSeconds)
}
