// Package queue implements the fixed-size, non-blocking queues that connect
// the pipeline stages: SPSC and MPMC rings, an arena-backed MPSC list, a
// tiered priority queue, and a sliding-window history ring. Every queue has
// power-of-two capacity and fails pushes/pops immediately instead of
// blocking; backpressure is the caller's concern.
package queue

import "fmt"

// checkCapacity enforces the power-of-two sizing contract. Violations are
// configuration mistakes and surface as startup errors.
func checkCapacity(capacity uint64) error {
	if capacity < 2 || capacity&(capacity-1) != 0 {
		return fmt.Errorf("queue: capacity %d is not a power of two >= 2", capacity)
	}
	return nil
}
