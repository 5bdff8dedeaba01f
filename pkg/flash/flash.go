// Package flash defines the contract for emulated flash block devices:
// a geometry describing the device layout, the Device interface implemented
// by every backend, and the shared bounds checks all backends validate
// requests against before touching storage.
package flash

import (
	"fmt"
)

// ErasedByte is the value every byte of an erase block holds after a
// successful erase and before the next program, emulating NOR/NAND flash.
const ErasedByte byte = 0xFF

// Geometry describes the layout of an emulated flash device. It is created
// by the caller before the device exists and must not change for the
// device's lifetime.
type Geometry struct {
	// Minimum size and alignment of a read operation in bytes.
	ReadSize uint32

	// Minimum size and alignment of a program operation in bytes.
	ProgSize uint32

	// Size of an erase block in bytes. Must be a multiple of both
	// ReadSize and ProgSize.
	EraseSize uint32

	// Number of erase blocks on the device.
	EraseCount uint32
}

// Validate checks the geometry invariants. It returns an error wrapping
// ErrInvalidGeometry if any field is zero or the granularities do not divide
// evenly into the erase size. Backends call this once at creation time.
func (g Geometry) Validate() error {
	if g.ReadSize == 0 || g.ProgSize == 0 || g.EraseSize == 0 || g.EraseCount == 0 {
		return fmt.Errorf("geometry fields must be positive (read %d, prog %d, erase %d, count %d): %w",
			g.ReadSize, g.ProgSize, g.EraseSize, g.EraseCount, ErrInvalidGeometry{})
	}

	if g.EraseSize%g.ReadSize != 0 {
		return fmt.Errorf("erase size %d is not a multiple of read size %d: %w",
			g.EraseSize, g.ReadSize, ErrInvalidGeometry{})
	}

	if g.EraseSize%g.ProgSize != 0 {
		return fmt.Errorf("erase size %d is not a multiple of prog size %d: %w",
			g.EraseSize, g.ProgSize, ErrInvalidGeometry{})
	}

	return nil
}

// Size returns the total device capacity in bytes.
func (g Geometry) Size() int64 {
	return int64(g.EraseSize) * int64(g.EraseCount)
}

// CheckBlock validates that block addresses an erase block on the device.
func (g Geometry) CheckBlock(block uint32) error {
	if block >= g.EraseCount {
		return fmt.Errorf("block %d out of range (device has %d blocks): %w",
			block, g.EraseCount, ErrOutOfBounds{})
	}

	return nil
}

// CheckRead validates the addressing of a read of n bytes at off within block.
func (g Geometry) CheckRead(block, off uint32, n int) error {
	return g.checkRange("read", block, off, n, g.ReadSize)
}

// CheckProg validates the addressing of a program of n bytes at off within block.
func (g Geometry) CheckProg(block, off uint32, n int) error {
	return g.checkRange("prog", block, off, n, g.ProgSize)
}

func (g Geometry) checkRange(op string, block, off uint32, n int, granularity uint32) error {
	if err := g.CheckBlock(block); err != nil {
		return err
	}

	if n < 0 || uint64(off)+uint64(n) > uint64(g.EraseSize) {
		return fmt.Errorf("%s of %d bytes at offset %d exceeds erase size %d: %w",
			op, n, off, g.EraseSize, ErrOutOfBounds{})
	}

	if off%granularity != 0 || n%int(granularity) != 0 {
		return fmt.Errorf("%s of %d bytes at offset %d not aligned to %s granularity %d: %w",
			op, n, off, op, granularity, ErrOutOfBounds{})
	}

	return nil
}

// Offset returns the absolute byte position of (block, off) in the flat
// backing store.
func (g Geometry) Offset(block, off uint32) int64 {
	return int64(block)*int64(g.EraseSize) + int64(off)
}

// Device is an emulated flash block device. Every operation is synchronous
// and validated against the device geometry before storage is touched.
//
// A device is exclusively owned by a single caller; implementations perform
// no internal locking. Operations after Close are a caller bug and surface
// as I/O errors.
type Device interface {
	// ReadBlock reads len(p) bytes at off within block into p. The offset
	// and length must be multiples of the geometry's ReadSize. Ranges that
	// were erased and never programmed since read as ErasedByte.
	ReadBlock(block, off uint32, p []byte) error

	// ProgramBlock writes len(p) bytes from p at off within block. The
	// offset and length must be multiples of the geometry's ProgSize. The
	// target range should have been erased since it was last programmed;
	// unless the backend is configured to verify this, programming
	// non-erased bytes deterministically overwrites them.
	ProgramBlock(block, off uint32, p []byte) error

	// EraseBlock fills the entire erase block with ErasedByte.
	EraseBlock(block uint32) error

	// Sync flushes buffered writes to the backing store.
	Sync() error

	// Close releases the backing store. The device is unusable afterwards.
	Close() error

	// Geometry returns the immutable geometry the device was created with.
	Geometry() Geometry

	// Size returns the device capacity in bytes.
	Size() int64
}
