package overlay

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flashemu/flashbd/pkg/flash"
	"github.com/flashemu/flashbd/pkg/rambd"
)

var testGeometry = flash.Geometry{
	ReadSize:   16,
	ProgSize:   16,
	EraseSize:  512,
	EraseCount: 4,
}

func newTestOverlay(t *testing.T) (*Device, *rambd.Device) {
	t.Helper()

	base, err := rambd.New(rambd.Config{Geometry: testGeometry})
	require.NoError(t, err)

	scratch, err := rambd.New(rambd.Config{Geometry: testGeometry})
	require.NoError(t, err)

	overlay, err := New(base, scratch)
	require.NoError(t, err)

	return overlay, base
}

func TestOverlayReadsThroughToBase(t *testing.T) {
	overlay, base := newTestOverlay(t)

	data := bytes.Repeat([]byte{0x42}, 16)
	require.NoError(t, base.ProgramBlock(1, 32, data))

	buf := make([]byte, 16)
	require.NoError(t, overlay.ReadBlock(1, 32, buf))
	assert.Equal(t, data, buf, "unmodified blocks should read from base")
}

func TestOverlayProgramDoesNotTouchBase(t *testing.T) {
	overlay, base := newTestOverlay(t)

	baseData := bytes.Repeat([]byte{0x42}, 16)
	require.NoError(t, base.ProgramBlock(1, 0, baseData))

	overlayData := bytes.Repeat([]byte{0x24}, 16)
	require.NoError(t, overlay.ProgramBlock(1, 0, overlayData))

	buf := make([]byte, 16)
	require.NoError(t, overlay.ReadBlock(1, 0, buf))
	assert.Equal(t, overlayData, buf, "overlay should read its own write")

	require.NoError(t, base.ReadBlock(1, 0, buf))
	assert.Equal(t, baseData, buf, "base should not be affected by overlay writes")
}

func TestOverlayCopyUpPreservesBlockContent(t *testing.T) {
	overlay, base := newTestOverlay(t)

	baseData := bytes.Repeat([]byte{0x42}, 16)
	require.NoError(t, base.ProgramBlock(2, 0, baseData))

	// Programming a different range of the block must keep the base
	// content of the untouched range visible.
	require.NoError(t, overlay.ProgramBlock(2, 64, bytes.Repeat([]byte{0x24}, 16)))

	buf := make([]byte, 16)
	require.NoError(t, overlay.ReadBlock(2, 0, buf))
	assert.Equal(t, baseData, buf)
}

func TestOverlayErase(t *testing.T) {
	overlay, base := newTestOverlay(t)

	baseData := bytes.Repeat([]byte{0x42}, 16)
	require.NoError(t, base.ProgramBlock(3, 0, baseData))

	require.NoError(t, overlay.EraseBlock(3))

	buf := make([]byte, 16)
	require.NoError(t, overlay.ReadBlock(3, 0, buf))
	assert.Equal(t, bytes.Repeat([]byte{flash.ErasedByte}, 16), buf, "erased overlay block should read erased")

	require.NoError(t, base.ReadBlock(3, 0, buf))
	assert.Equal(t, baseData, buf, "base should survive overlay erase")
}

func TestOverlayBoundsRejection(t *testing.T) {
	overlay, _ := newTestOverlay(t)

	buf := make([]byte, 16)
	assert.True(t, errors.Is(overlay.ReadBlock(4, 0, buf), flash.ErrOutOfBounds{}))
	assert.True(t, errors.Is(overlay.ProgramBlock(0, 5, buf), flash.ErrOutOfBounds{}))
	assert.True(t, errors.Is(overlay.EraseBlock(4), flash.ErrOutOfBounds{}))
}

func TestOverlayGeometryMismatch(t *testing.T) {
	base, err := rambd.New(rambd.Config{Geometry: testGeometry})
	require.NoError(t, err)

	other := testGeometry
	other.EraseCount = 8
	scratch, err := rambd.New(rambd.Config{Geometry: other})
	require.NoError(t, err)

	_, err = New(base, scratch)
	assert.True(t, errors.Is(err, flash.ErrInvalidGeometry{}))
}
