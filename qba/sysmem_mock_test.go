package qba

import (
	"reflect"

	"go.uber.org/mock/gomock"

	"github.com/qba-project/qba/internal/sysmem"
)

// MockFacade is a hand-maintained stand-in for what `mockgen
// -source=internal/sysmem/sysmem.go -destination=qba/sysmem_mock_test.go`
// would produce for sysmem.Facade; committed directly since this module
// has no code-generation step wired into its build.
type MockFacade struct {
	ctrl     *gomock.Controller
	recorder *MockFacadeMockRecorder
}

type MockFacadeMockRecorder struct {
	mock *MockFacade
}

func NewMockFacade(ctrl *gomock.Controller) *MockFacade {
	m := &MockFacade{ctrl: ctrl}
	m.recorder = &MockFacadeMockRecorder{m}
	return m
}

func (m *MockFacade) EXPECT() *MockFacadeMockRecorder {
	return m.recorder
}

func (m *MockFacade) PageSize() int {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "PageSize")
	return ret[0].(int)
}

func (mr *MockFacadeMockRecorder) PageSize() *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "PageSize", reflect.TypeOf((*MockFacade)(nil).PageSize))
}

func (m *MockFacade) Reserve(addr uintptr, size int) (uintptr, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Reserve", addr, size)
	return ret[0].(uintptr), errOrNil(ret[1])
}

func (mr *MockFacadeMockRecorder) Reserve(addr, size interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Reserve", reflect.TypeOf((*MockFacade)(nil).Reserve), addr, size)
}

func (m *MockFacade) ReserveAligned(size int, alignment int) (uintptr, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "ReserveAligned", size, alignment)
	return ret[0].(uintptr), errOrNil(ret[1])
}

func (mr *MockFacadeMockRecorder) ReserveAligned(size, alignment interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "ReserveAligned", reflect.TypeOf((*MockFacade)(nil).ReserveAligned), size, alignment)
}

func (m *MockFacade) MapShared(addr uintptr, size int, linkName string) (uintptr, bool, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "MapShared", addr, size, linkName)
	return ret[0].(uintptr), ret[1].(bool), errOrNil(ret[2])
}

func (mr *MockFacadeMockRecorder) MapShared(addr, size, linkName interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "MapShared", reflect.TypeOf((*MockFacade)(nil).MapShared), addr, size, linkName)
}

func (m *MockFacade) Release(addr uintptr, size int, unlink bool) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Release", addr, size, unlink)
	return errOrNil(ret[0])
}

func (mr *MockFacadeMockRecorder) Release(addr, size, unlink interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Release", reflect.TypeOf((*MockFacade)(nil).Release), addr, size, unlink)
}

func (m *MockFacade) Commit(addr uintptr, size int) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Commit", addr, size)
	return errOrNil(ret[0])
}

func (mr *MockFacadeMockRecorder) Commit(addr, size interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Commit", reflect.TypeOf((*MockFacade)(nil).Commit), addr, size)
}

func (m *MockFacade) Uncommit(addr uintptr, size int) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Uncommit", addr, size)
	return errOrNil(ret[0])
}

func (mr *MockFacadeMockRecorder) Uncommit(addr, size interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Uncommit", reflect.TypeOf((*MockFacade)(nil).Uncommit), addr, size)
}

func (m *MockFacade) Zero(addr uintptr, size int, sharing sysmem.Sharing) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Zero", addr, size, sharing)
	return errOrNil(ret[0])
}

func (mr *MockFacadeMockRecorder) Zero(addr, size, sharing interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Zero", reflect.TypeOf((*MockFacade)(nil).Zero), addr, size, sharing)
}

func (m *MockFacade) Copy(dst, src uintptr, size int) {
	m.ctrl.T.Helper()
	m.ctrl.Call(m, "Copy", dst, src, size)
}

func (mr *MockFacadeMockRecorder) Copy(dst, src, size interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Copy", reflect.TypeOf((*MockFacade)(nil).Copy), dst, src, size)
}

func errOrNil(v interface{}) error {
	if v == nil {
		return nil
	}
	return v.(error)
}
