package flash

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"
)

// EraseTracker enforces the erase-before-program contract. It keeps one bit
// per program-granularity unit: erasing a block sets every unit in it,
// programming consumes the units it covers. Programming a unit whose bit is
// clear means the range was not erased since its last program.
//
// The tracker is owned by a single device instance and shares its
// no-internal-locking model.
type EraseTracker struct {
	geo   Geometry
	units *bitset.BitSet

	// units per erase block
	perBlock uint32
}

// NewEraseTracker creates a tracker for the given geometry. All units start
// non-erased; callers that pre-fill storage with ErasedByte should call
// EraseAll.
func NewEraseTracker(geo Geometry) *EraseTracker {
	perBlock := geo.EraseSize / geo.ProgSize

	return &EraseTracker{
		geo:      geo,
		units:    bitset.New(uint(perBlock) * uint(geo.EraseCount)),
		perBlock: perBlock,
	}
}

// EraseBlock records an erase of every unit in block.
func (t *EraseTracker) EraseBlock(block uint32) {
	first := uint(block) * uint(t.perBlock)
	for u := first; u < first+uint(t.perBlock); u++ {
		t.units.Set(u)
	}
}

// EraseAll records an erase of the whole device.
func (t *EraseTracker) EraseAll() {
	for b := uint32(0); b < t.geo.EraseCount; b++ {
		t.EraseBlock(b)
	}
}

// ProgramBlock verifies that the n bytes at off within block were erased
// since their last program, then consumes the erased state. It fails with
// ErrNotErased before consuming anything, so a rejected program leaves the
// tracker unchanged.
func (t *EraseTracker) ProgramBlock(block, off uint32, n int) error {
	first := uint(block)*uint(t.perBlock) + uint(off/t.geo.ProgSize)
	count := uint(n) / uint(t.geo.ProgSize)

	for u := first; u < first+count; u++ {
		if !t.units.Test(u) {
			return fmt.Errorf("block %d offset %d: %w", block, off, ErrNotErased{})
		}
	}

	for u := first; u < first+count; u++ {
		t.units.Clear(u)
	}

	return nil
}
