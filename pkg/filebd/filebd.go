// Package filebd emulates a flash block device on top of a flat file on the
// host filesystem. The file's raw bytes are the device's raw storage,
// addressed as block*EraseSize + offset, with no header or metadata.
package filebd

import (
	"fmt"
	"os"

	"github.com/flashemu/flashbd/pkg/flash"
)

type Config struct {
	Geometry flash.Geometry

	// Preallocate reserves the full device size on disk at creation, so
	// running out of space fails New instead of a later program or erase.
	Preallocate bool

	// VerifyErase rejects programs of ranges that were not erased since
	// their last program, instead of silently overwriting.
	VerifyErase bool
}

type Device struct {
	file *os.File
	geo  flash.Geometry

	// one erase block worth of ErasedByte, reused for erases and fills
	blank []byte

	tracker *flash.EraseTracker
}

var _ flash.Device = (*Device)(nil)

// New opens or creates the backing file at path and sizes it to exactly
// Geometry.Size() bytes. Any region the resize exposes is filled with
// flash.ErasedByte, so a fresh device reads fully erased.
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

	d := &Device{
		file:  f,
		geo:   cfg.Geometry,
		blank: blank,
	}

	oldSize := info.Size()
	size := cfg.Geometry.Size()

	if oldSize != size {
		if err := f.Truncate(size); err != nil {
			f.Close()

			return nil, fmt.Errorf("error sizing backing file to %d bytes: %w", size, err)
		}

		// A grown file reads zero in the new region; overwrite it with
		// the erased pattern so unprogrammed ranges read as erased.
		if err := d.fillErased(oldSize, size); err != nil {
			f.Close()

			return nil, err
		}
	}

	if cfg.Preallocate {
		if err := fallocate(size, f); err != nil {
			f.Close()

			return nil, fmt.Errorf("error preallocating %d bytes: %w", size, err)
		}
	}

	if cfg.VerifyErase {
		d.tracker = flash.NewEraseTracker(cfg.Geometry)
		if oldSize == 0 {
			// Freshly created files hold the erased pattern everywhere.
			d.tracker.EraseAll()
		}
	}

	return d, nil
}

func (d *Device) fillErased(from, to int64) error {
	for off := from; off < to; {
		n := int64(len(d.blank))
		if to-off < n {
			n = to - off
		}

		if _, err := d.file.WriteAt(d.blank[:n], off); err != nil {
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

	if _, err := d.file.ReadAt(p, d.geo.Offset(block, off)); err != nil {
		return fmt.Errorf("error reading %d bytes from block %d offset %d: %w", len(p), block, off, err)
	}

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

	if _, err := d.file.WriteAt(p, d.geo.Offset(block, off)); err != nil {
		return fmt.Errorf("error programming %d bytes at block %d offset %d: %w", len(p), block, off, err)
	}

	return nil
}

func (d *Device) EraseBlock(block uint32) error {
	if err := d.geo.CheckBlock(block); err != nil {
		return err
	}

	if _, err := d.file.WriteAt(d.blank, d.geo.Offset(block, 0)); err != nil {
		return fmt.Errorf("error erasing block %d: %w", block, err)
	}

	if d.tracker != nil {
		d.tracker.EraseBlock(block)
	}

	return nil
}

// Sync flushes buffered writes to host storage. Durability beyond the host's
// fsync guarantee is not added here.
func (d *Device) Sync() error {
	if err := d.file.Sync(); err != nil {
		return fmt.Errorf("error syncing backing file: %w", err)
	}

	return nil
}

func (d *Device) Close() error {
	return d.file.Close()
}

func (d *Device) Geometry() flash.Geometry {
	return d.geo
}

func (d *Device) Size() int64 {
	return d.geo.Size()
}
