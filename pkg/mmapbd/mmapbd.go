// Package mmapbd emulates a flash block device over a memory-mapped backing
// file. The on-disk format is identical to filebd's, so the two backends can
// be used interchangeably on the same file (one at a time).
package mmapbd

import (
	"errors"
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"

	"github.com/flashemu/flashbd/pkg/flash"
)

type Config struct {
	Geometry flash.Geometry

	// VerifyErase rejects programs of ranges that were not erased since
	// their last program, instead of silently overwriting.
	VerifyErase bool
}

type Device struct {
	file *os.File
	mmap mmap.MMap
	geo  flash.Geometry

	blank []byte

	tracker *flash.EraseTracker
}

var _ flash.Device = (*Device)(nil)

// New opens or creates the backing file at path, sizes it to exactly
// Geometry.Size() bytes and maps it read-write. Regions exposed by the
// resize are filled with flash.ErasedByte before mapping.
func New(path string, cfg Config) (*Device, error) {
	if err := cfg.Geometry.Validate(); err != nil {
		return nil, fmt.Errorf("creating device at %s: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("error opening backing file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()

		return nil, fmt.Errorf("error checking backing file: %w", err)
	}

	blank := make([]byte, cfg.Geometry.EraseSize)
	for i := range blank {
		blank[i] = flash.ErasedByte
	}

	oldSize := info.Size()
	size := cfg.Geometry.Size()

	if oldSize != size {
		if err := f.Truncate(size); err != nil {
			f.Close()

			return nil, fmt.Errorf("error sizing backing file to %d bytes: %w", size, err)
		}

		if err := fillErased(f, blank, oldSize, size); err != nil {
			f.Close()

			return nil, err
		}
	}

	mm, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()

		return nil, fmt.Errorf("error mapping backing file: %w", err)
	}

	d := &Device{
		file:  f,
		mmap:  mm,
		geo:   cfg.Geometry,
		blank: blank,
	}

	if cfg.VerifyErase {
		d.tracker = flash.NewEraseTracker(cfg.Geometry)
		if oldSize == 0 {
			d.tracker.EraseAll()
		}
	}

	return d, nil
}

func fillErased(f *os.File, blank []byte, from, to int64) error {
	for off := from; off < to; {
		n := int64(len(blank))
		if to-off < n {
			n = to - off
		}

		if _, err := f.WriteAt(blank[:n], off); err != nil {
			return fmt.Errorf("error erasing backing file region at %d: %w", off, err)
		}

		off += n
	}

	return nil
}

func (d *Device) ReadBlock(block, off uint32, p []byte) error {
	if err := d.geo.CheckRead(block, off, len(p)); err != nil {
		return err
	}

	pos := d.geo.Offset(block, off)
	copy(p, d.mmap[pos:pos+int64(len(p))])

	return nil
}

func (d *Device) ProgramBlock(block, off uint32, p []byte) error {
	if err := d.geo.CheckProg(block, off, len(p)); err != nil {
		return err
	}

	if d.tracker != nil {
		if err := d.tracker.ProgramBlock(block, off, len(p)); err != nil {
			return err
		}
	}

	copy(d.mmap[d.geo.Offset(block, off):], p)

	return nil
}

func (d *Device) EraseBlock(block uint32) error {
	if err := d.geo.CheckBlock(block); err != nil {
		return err
	}

	copy(d.mmap[d.geo.Offset(block, 0):], d.blank)

	if d.tracker != nil {
		d.tracker.EraseBlock(block)
	}

	return nil
}

func (d *Device) Sync() error {
	if err := d.mmap.Flush(); err != nil {
		return fmt.Errorf("error flushing mapping: %w", err)
	}

	return nil
}

func (d *Device) Close() error {
	flushErr := d.mmap.Flush()

	mmapErr := d.mmap.Unmap()
	closeErr := d.file.Close()

	return errors.Join(flushErr, mmapErr, closeErr)
}

func (d *Device) Geometry() flash.Geometry {
	return d.geo
}

func (d *Device) Size() int64 {
	return d.geo.Size()
}
