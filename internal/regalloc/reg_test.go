package regalloc_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tieredvm/corejit/internal/regalloc"
)

func TestVReg_RealRegRoundTrip(t *testing.T) {
	v := regalloc.VReg(42).SetRegType(regalloc.RegTypeFloat)
	require.False(t, v.IsRealReg())
	require.Equal(t, regalloc.RegTypeFloat, v.RegType())

	bound := v.SetRealReg(regalloc.RealReg(7))
	require.True(t, bound.IsRealReg())
	require.Equal(t, regalloc.RealReg(7), bound.RealReg())
	require.Equal(t, regalloc.RegTypeFloat, bound.RegType(), "SetRealReg must not disturb RegType")
	require.Equal(t, regalloc.VRegID(42), bound.ID(), "SetRealReg must not disturb the ID")
}

func TestVReg_Valid(t *testing.T) {
	require.False(t, regalloc.VRegInvalid.Valid())
	require.False(t, regalloc.VReg(5).Valid(), "RegTypeInvalid (zero value) is never valid")
	require.True(t, regalloc.VReg(5).SetRegType(regalloc.RegTypeInt).Valid())
}

func TestFromRealReg(t *testing.T) {
	r := regalloc.FromRealReg(regalloc.RealReg(3), regalloc.RegTypeVector)
	require.True(t, r.IsRealReg())
	require.Equal(t, regalloc.RealReg(3), r.RealReg())
	require.Equal(t, regalloc.RegTypeVector, r.RegType())
}

func TestVRegSet(t *testing.T) {
	var s regalloc.VRegSet
	a := regalloc.VReg(1).SetRegType(regalloc.RegTypeInt)
	b := regalloc.VReg(2).SetRegType(regalloc.RegTypeFloat)
	require.False(t, s.Contains(a))
	s.Insert(a)
	require.True(t, s.Contains(a))
	require.False(t, s.Contains(b))
}
