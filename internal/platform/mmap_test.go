package platform

import (
	"bytes"
	"crypto/rand"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

var testCodeBuf, _ = io.ReadAll(io.LimitReader(rand.Reader, 8*1024))

// capturePanic runs fn and returns the value it panicked with, or nil if
// fn returned normally.
func capturePanic(fn func()) (recovered interface{}) {
	defer func() { recovered = recover() }()
	fn()
	return nil
}

func Test_MmapCodeSegment(t *testing.T) {
	if !CompilerSupported() {
		t.Skip()
	}

	testCodeReader := bytes.NewReader(testCodeBuf)
	newCode, err := MmapCodeSegment(testCodeReader, testCodeReader.Len())
	require.NoError(t, err)
	// Verify that the mmap is the same as the original.
	require.Equal(t, testCodeBuf, newCode)

	t.Run("panic on zero length", func(t *testing.T) {
		captured := capturePanic(func() {
			_, _ = MmapCodeSegment(bytes.NewBuffer(make([]byte, 0)), 0)
		})
		require.Equal(t, "BUG: MmapCodeSegment with zero length", captured)
	})
}

func Test_MunmapCodeSegment(t *testing.T) {
	if !CompilerSupported() {
		t.Skip()
	}

	// Errors if never mapped
	require.Error(t, MunmapCodeSegment(testCodeBuf))

	testCodeReader := bytes.NewReader(testCodeBuf)
	newCode, err := MmapCodeSegment(testCodeReader, testCodeReader.Len())
	require.NoError(t, err)
	// First munmap should succeed.
	require.NoError(t, MunmapCodeSegment(newCode))
	// Double munmap should fail.
	require.Error(t, MunmapCodeSegment(newCode))

	t.Run("panic on zero length", func(t *testing.T) {
		captured := capturePanic(func() {
			_ = MunmapCodeSegment(make([]byte, 0))
		})
		require.Equal(t, "BUG: MunmapCodeSegment with zero length", captured)
	})
}
