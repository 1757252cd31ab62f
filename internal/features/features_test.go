package features_test

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tieredvm/corejit/internal/features"
)

func init() {
	features.Enable("hugepages")
}

func TestHave(t *testing.T) {
	require.True(t, features.Have("hugepages"))
	require.False(t, features.Have("nope"))
}

func TestAllocsEnabled(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("accessing features allocates memory on windows")
	}
	require.Equal(t, 0.0, testing.AllocsPerRun(100, func() {
		features.Have("hugepages")
	}))
}

func TestAllocsDisabled(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("accessing features allocates memory on windows")
	}
	require.Equal(t, 0.0, testing.AllocsPerRun(100, func() {
		features.Have("nope")
	}))
}
