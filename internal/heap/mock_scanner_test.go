// Mockgen-shaped mock for region.Scanner, written and maintained by hand
// since the collection only carries one mockable interface worth stubbing.

package heap

import (
	"reflect"
	"unsafe"

	"go.uber.org/mock/gomock"
)

// MockScanner is a mock of the region.Scanner interface.
type MockScanner struct {
	ctrl     *gomock.Controller
	recorder *MockScannerMockRecorder
}

// MockScannerMockRecorder is the mock recorder for MockScanner.
type MockScannerMockRecorder struct {
	mock *MockScanner
}

// NewMockScanner constructs a new mock.
func NewMockScanner(ctrl *gomock.Controller) *MockScanner {
	m := &MockScanner{ctrl: ctrl}
	m.recorder = &MockScannerMockRecorder{m}

	return m
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockScanner) EXPECT() *MockScannerMockRecorder {
	return m.recorder
}

// Scan mocks base method.
func (m *MockScanner) Scan(emit func(ref unsafe.Pointer)) {
	m.ctrl.T.Helper()
	m.ctrl.Call(m, "Scan", emit)
}

// Scan indicates an expected call of Scan.
func (mr *MockScannerMockRecorder) Scan(emit interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Scan", reflect.TypeOf((*MockScanner)(nil).Scan), emit)
}
