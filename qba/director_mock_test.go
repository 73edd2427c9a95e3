package qba

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/qba-project/qba/internal/sysmem"
)

func TestCreateReturnsOutOfAddressSpaceWhenReservationFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	mem := NewMockFacade(ctrl)
	mem.EXPECT().PageSize().Return(4096).AnyTimes()
	mem.EXPECT().ReserveAligned(gomock.Any(), gomock.Any()).Return(uintptr(0), sysmem.ErrOutOfAddressSpace)

	cfg := DefaultConfig(false)
	cfg.backend = mem

	d, err := Create(cfg)
	require.Nil(t, d)
	require.ErrorIs(t, err, ErrOutOfAddressSpace)
}

func TestCreateReleasesRemainderWhenQuantumRegionReservationFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	mem := NewMockFacade(ctrl)
	mem.EXPECT().PageSize().Return(4096).AnyTimes()
	mem.EXPECT().ReserveAligned(gomock.Any(), gomock.Any()).Return(uintptr(0x10000), nil)
	mem.EXPECT().Commit(uintptr(0x10000), gomock.Any()).Return(nil)
	mem.EXPECT().ReserveAligned(gomock.Any(), gomock.Any()).Return(uintptr(0), sysmem.ErrOutOfAddressSpace)
	mem.EXPECT().Release(uintptr(0x10000), gomock.Any(), false).Return(nil)

	cfg := DefaultConfig(false)
	cfg.backend = mem

	d, err := Create(cfg)
	require.Nil(t, d)
	require.ErrorIs(t, err, ErrOutOfAddressSpace)
}
