package bitutil_test

import (
	"testing"

	"github.com/qba-project/qba/internal/bitutil"
	"github.com/stretchr/testify/require"
)

func TestClzCtzZero(t *testing.T) {
	require.Equal(t, 64, bitutil.Clz(0))
	require.Equal(t, 64, bitutil.Ctz(0))
}

func TestLowZeroBit(t *testing.T) {
	require.Equal(t, uint64(1), bitutil.LowZeroBit(0))
	require.Equal(t, uint64(0), bitutil.LowZeroBit(^uint64(0)))
	require.Equal(t, uint64(0b100), bitutil.LowZeroBit(0b011))
}

func TestLowZeroRunPos(t *testing.T) {
	// bits 4..6 clear (0b000_1111 has bits 0-3 set, rest clear)
	require.Equal(t, 4, bitutil.LowZeroRunPos(0x0F, 3))
	require.Equal(t, bitutil.NotFound, bitutil.LowZeroRunPos(^uint64(0), 1))
	require.Equal(t, 0, bitutil.LowZeroRunPos(0, 64))
}

func TestRoundUpPow2(t *testing.T) {
	require.Equal(t, uint64(0), bitutil.RoundUpPow2(0))
	require.Equal(t, uint64(1), bitutil.RoundUpPow2(1))
	require.Equal(t, uint64(8), bitutil.RoundUpPow2(5))
	require.Equal(t, uint64(1024), bitutil.RoundUpPow2(1024))
}

func TestSizeToOrder(t *testing.T) {
	require.Equal(t, 3, bitutil.SizeToOrder(1))
	require.Equal(t, 3, bitutil.SizeToOrder(8))
	require.Equal(t, 4, bitutil.SizeToOrder(9))
	require.Equal(t, 10, bitutil.SizeToOrder(1024))
	require.Equal(t, 11, bitutil.SizeToOrder(1025))
}
