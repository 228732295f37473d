package collector

import "fmt"

// ContainerError reports a failed per-container fetch. The container is left
// out of the snapshot; the cycle itself carries on.
type ContainerError struct {
	ID  string
	Op  string
	Err error
}

func (e *ContainerError) Error() string {
	return fmt.Sprintf("container %s: %s: %v", e.ID, e.Op, e.Err)
}

func (e *ContainerError) Unwrap() error {
	return e.Err
}
