package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brewcode-go/errcode"
)

func TestMemFlashEraseProgramRead(t *testing.T) {
	f := NewMemFlash(0x10000)

	require.NoError(t, f.EraseBlock(0x1000))
	page := make([]byte, 256)
	for i := range page {
		page[i] = byte(i)
	}
	require.NoError(t, f.ProgramPage(0x1000, page))

	got := make([]byte, 256)
	require.NoError(t, f.ReadAt(got, 0x1000))
	assert.Equal(t, page, got)
}

func TestMemFlashProgramOnlyClearsBits(t *testing.T) {
	f := NewMemFlash(0x10000)
	require.NoError(t, f.EraseBlock(0))
	require.NoError(t, f.ProgramPage(0, []byte{0x0F}))
	// Second program without erase: 1-bits cannot come back.
	require.NoError(t, f.ProgramPage(0, []byte{0xF0}))

	got := make([]byte, 1)
	require.NoError(t, f.ReadAt(got, 0))
	assert.Equal(t, byte(0x00), got[0])
}

func TestMemFlashAlignmentAndBounds(t *testing.T) {
	f := NewMemFlash(0x10000)

	assert.Equal(t, errcode.FlashAlign, f.EraseBlock(0x800))
	assert.Equal(t, errcode.FlashAlign, f.ProgramPage(0x10, []byte{1}))
	assert.Equal(t, errcode.FlashBounds, f.EraseBlock(0x10000))
	assert.Equal(t, errcode.FlashBounds, f.ReadAt(make([]byte, 2), 0xFFFF))
}

func TestMemFlashFailureInjection(t *testing.T) {
	f := NewMemFlash(0x10000)
	f.FailAfter = 2

	assert.NoError(t, f.EraseBlock(0))
	assert.Equal(t, errcode.FlashFault, f.EraseBlock(0x1000))
}
