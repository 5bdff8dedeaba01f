// Package overlay layers a writable scratch device over a read-only base
// device with the same geometry. Erases and programs land in the scratch
// device; reads fall through to the base until a block is first modified.
// The base is never written, so a golden image can back many runs.
package overlay

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"

	"github.com/flashemu/flashbd/pkg/flash"
)

type Device struct {
	base    flash.Device
	scratch flash.Device
	geo     flash.Geometry

	// blocks that live in scratch instead of base
	dirty *bitset.BitSet

	// erase-size buffer for copying base blocks up into scratch
	buf []byte
}

var _ flash.Device = (*Device)(nil)

// New creates an overlay of scratch on top of base. Both devices must share
// one geometry. The overlay takes ownership of scratch; base stays with the
// caller and is only read.
func New(base, scratch flash.Device) (*Device, error) {
	geo := base.Geometry()
	if geo != scratch.Geometry() {
		return nil, fmt.Errorf("overlay base and scratch geometries differ: %w", flash.ErrInvalidGeometry{})
	}

	return &Device{
		base:    base,
		scratch: scratch,
		geo:     geo,
		dirty:   bitset.New(uint(geo.EraseCount)),
		buf:     make([]byte, geo.EraseSize),
	}, nil
}

// copyUp moves the current content of block into scratch so it can be
// modified there. Blocks already in scratch are left alone.
func (d *Device) copyUp(block uint32) error {
	if d.dirty.Test(uint(block)) {
		return nil
	}

	if err := d.base.ReadBlock(block, 0, d.buf); err != nil {
		return fmt.Errorf("error copying block %d from base: %w", block, err)
	}

	if err := d.scratch.EraseBlock(block); err != nil {
		return fmt.Errorf("error preparing scratch block %d: %w", block, err)
	}

	if err := d.scratch.ProgramBlock(block, 0, d.buf); err != nil {
		return fmt.Errorf("error copying block %d to scratch: %w", block, err)
	}

	d.dirty.Set(uint(block))

	return nil
}

func (d *Device) ReadBlock(block, off uint32, p []byte) error {
	if err := d.geo.CheckRead(block, off, len(p)); err != nil {
		return err
	}

	if d.dirty.Test(uint(block)) {
		return d.scratch.ReadBlock(block, off, p)
	}

	return d.base.ReadBlock(block, off, p)
}

func (d *Device) ProgramBlock(block, off uint32, p []byte) error {
	if err := d.geo.CheckProg(block, off, len(p)); err != nil {
		return err
	}

	if err := d.copyUp(block); err != nil {
		return err
	}

	return d.scratch.ProgramBlock(block, off, p)
}

func (d *Device) EraseBlock(block uint32) error {
	if err := d.geo.CheckBlock(block); err != nil {
		return err
	}

	// An erase replaces the whole block, so nothing needs copying up.
	if err := d.scratch.EraseBlock(block); err != nil {
		return err
	}

	d.dirty.Set(uint(block))

	return nil
}

func (d *Device) Sync() error {
	return d.scratch.Sync()
}

func (d *Device) Close() error {
	return d.scratch.Close()
}

func (d *Device) Geometry() flash.Geometry {
	return d.geo
}

func (d *Device) Size() int64 {
	return d.geo.Size()
}
