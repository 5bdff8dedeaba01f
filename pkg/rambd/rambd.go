// Package rambd emulates a flash block device in memory. It shares the
// filebd contract and is the cheapest backend for exercising filesystem
// logic in tests.
package rambd

import (
	"fmt"
	"os"

	"github.com/flashemu/flashbd/pkg/flash"
)

type Config struct {
	Geometry flash.Geometry

	// VerifyErase rejects programs of ranges that were not erased since
	// their last program, instead of silently overwriting.
	VerifyErase bool
}

type Device struct {
	geo    flash.Geometry
	memory []byte
	blank  []byte

	tracker *flash.EraseTracker
}

var _ flash.Device = (*Device)(nil)

// New creates a device with every block in the erased state.
func New(cfg Config) (*Device, error) {
	if err := cfg.Geometry.Validate(); err != nil {
		return nil, fmt.Errorf("creating ram device: %w", err)
	}

	memory := make([]byte, cfg.Geometry.Size())
	for i := range memory {
		memory[i] = flash.ErasedByte
	}

	blank := make([]byte, cfg.Geometry.EraseSize)
	for i := range blank {
		blank[i] = flash.ErasedByte
	}

	d := &Device{
		geo:    cfg.Geometry,
		memory: memory,
		blank:  blank,
	}

	if cfg.VerifyErase {
		d.tracker = flash.NewEraseTracker(cfg.Geometry)
		d.tracker.EraseAll()
	}

	return d, nil
}

func (d *Device) ReadBlock(block, off uint32, p []byte) error {
	if err := d.geo.CheckRead(block, off, len(p)); err != nil {
		return err
	}

	if d.memory == nil {
		return fmt.Errorf("reading block %d: %w", block, os.ErrClosed)
	}

	pos := d.geo.Offset(block, off)
	copy(p, d.memory[pos:pos+int64(len(p))])

	return nil
}

func (d *Device) ProgramBlock(block, off uint32, p []byte) error {
	if err := d.geo.CheckProg(block, off, len(p)); err != nil {
		return err
	}

	if d.memory == nil {
		return fmt.Errorf("programming block %d: %w", block, os.ErrClosed)
	}

	if d.tracker != nil {
		if err := d.tracker.ProgramBlock(block, off, len(p)); err != nil {
			return err
		}
	}

	pos := d.geo.Offset(block, off)
	copy(d.memory[pos:], p)

	return nil
}

func (d *Device) EraseBlock(block uint32) error {
	if err := d.geo.CheckBlock(block); err != nil {
		return err
	}

	if d.memory == nil {
		return fmt.Errorf("erasing block %d: %w", block, os.ErrClosed)
	}

	copy(d.memory[d.geo.Offset(block, 0):], d.blank)

	if d.tracker != nil {
		d.tracker.EraseBlock(block)
	}

	return nil
}

func (d *Device) Sync() error {
	if d.memory == nil {
		return fmt.Errorf("syncing device: %w", os.ErrClosed)
	}

	return nil
}

func (d *Device) Close() error {
	d.memory = nil

	return nil
}

func (d *Device) Geometry() flash.Geometry {
	return d.geo
}

func (d *Device) Size() int64 {
	return d.geo.Size()
}
