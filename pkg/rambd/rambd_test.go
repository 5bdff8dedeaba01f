package rambd

import (
	"bytes"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flashemu/flashbd/pkg/flash"
)

var testGeometry = flash.Geometry{
	ReadSize:   16,
	ProgSize:   16,
	EraseSize:  512,
	EraseCount: 4,
}

func TestNewStartsErased(t *testing.T) {
	device, err := New(Config{Geometry: testGeometry})
	require.NoError(t, err)

	buf := make([]byte, testGeometry.EraseSize)
	for block := uint32(0); block < testGeometry.EraseCount; block++ {
		require.NoError(t, device.ReadBlock(block, 0, buf))
		assert.Equal(t, bytes.Repeat([]byte{flash.ErasedByte}, len(buf)), buf)
	}
}

func TestRoundTrip(t *testing.T) {
	device, err := New(Config{Geometry: testGeometry})
	require.NoError(t, err)

	data := []byte("hello flash world")
	data = data[:16]

	require.NoError(t, device.EraseBlock(2))
	require.NoError(t, device.ProgramBlock(2, 64, data))

	buf := make([]byte, 16)
	require.NoError(t, device.ReadBlock(2, 64, buf))
	assert.Equal(t, data, buf)

	// Erase restores the erased state.
	require.NoError(t, device.EraseBlock(2))
	require.NoError(t, device.ReadBlock(2, 64, buf))
	assert.Equal(t, bytes.Repeat([]byte{flash.ErasedByte}, 16), buf)
}

func TestInvalidGeometry(t *testing.T) {
	_, err := New(Config{Geometry: flash.Geometry{ReadSize: 16, ProgSize: 48, EraseSize: 512, EraseCount: 4}})
	assert.True(t, errors.Is(err, flash.ErrInvalidGeometry{}))
}

func TestBoundsRejection(t *testing.T) {
	device, err := New(Config{Geometry: testGeometry})
	require.NoError(t, err)

	buf := make([]byte, 16)
	assert.True(t, errors.Is(device.ReadBlock(4, 0, buf), flash.ErrOutOfBounds{}))
	assert.True(t, errors.Is(device.ProgramBlock(0, 5, buf), flash.ErrOutOfBounds{}))
	assert.True(t, errors.Is(device.EraseBlock(99), flash.ErrOutOfBounds{}))
}

func TestVerifyErase(t *testing.T) {
	device, err := New(Config{Geometry: testGeometry, VerifyErase: true})
	require.NoError(t, err)

	data := bytes.Repeat([]byte{0xAB}, 16)
	require.NoError(t, device.ProgramBlock(0, 0, data))

	err = device.ProgramBlock(0, 0, data)
	assert.True(t, errors.Is(err, flash.ErrNotErased{}))

	require.NoError(t, device.EraseBlock(0))
	require.NoError(t, device.ProgramBlock(0, 0, data))
}

func TestOperationsAfterClose(t *testing.T) {
	device, err := New(Config{Geometry: testGeometry})
	require.NoError(t, err)
	require.NoError(t, device.Close())

	buf := make([]byte, 16)
	assert.True(t, errors.Is(device.ReadBlock(0, 0, buf), os.ErrClosed))
	assert.True(t, errors.Is(device.ProgramBlock(0, 0, buf), os.ErrClosed))
	assert.True(t, errors.Is(device.EraseBlock(0), os.ErrClosed))
	assert.True(t, errors.Is(device.Sync(), os.ErrClosed))
}
