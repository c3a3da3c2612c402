//go:build !linux

package supervisor

import "errors"

// ErrAffinityUnsupported is returned where sched_setaffinity does not exist.
var ErrAffinityUnsupported = errors.New("cpu affinity is only supported on linux")

// AffinityPinner is unavailable on this platform.
type AffinityPinner struct{}

// Pin implements Pinner.
func (AffinityPinner) Pin(pid, logicalID int) error {
	return ErrAffinityUnsupported
}

// Affinity is unavailable on this platform.
func Affinity(pid int) ([]int, error) {
	return nil, ErrAffinityUnsupported
}
