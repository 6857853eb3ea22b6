package fsapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMemInodeReadWriteRoundtrip(t *testing.T) {
	ino := NewMemInode(nil)
	n, err := ino.WriteAt([]byte("hello"), 0)
	assert.NoError(t, err)
	assert.Equal(t, 5, n)

	buf := make([]byte, 5)
	n, err = ino.ReadAt(buf, 0)
	assert.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
}

func TestMemInodeTruncateGrowsAndShrinks(t *testing.T) {
	ino := NewMemInode([]byte("0123456789"))
	assert.NoError(t, ino.Truncate(4))
	assert.EqualValues(t, 4, ino.Size())

	assert.NoError(t, ino.Truncate(8))
	assert.EqualValues(t, 8, ino.Size())
}

func TestFileReaderAtServesElfload(t *testing.T) {
	ino := NewMemInode([]byte("abcdefgh"))
	f := MkFile(ino, false)
	r := f.ReaderAt()

	buf := make([]byte, 3)
	n, err := r.ReadAt(buf, 2)
	assert.NoError(t, err)
	assert.Equal(t, "cde", string(buf[:n]))
}
