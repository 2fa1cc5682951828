// Package mocks provides test doubles for the poiapi client.
package mocks

import (
	"context"
	"encoding/json"

	poiapi "github.com/sells-group/geosweep/pkg/poiapi"
	mock "github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// SearchPage provides a mock function with given fields: ctx, req
func (_m *MockClient) SearchPage(ctx context.Context, req poiapi.SearchRequest) (*poiapi.SearchPage, error) {
	ret := _m.Called(ctx, req)

	if len(ret) == 0 {
		panic("no return value specified for SearchPage")
	}

	var r0 *poiapi.SearchPage
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, poiapi.SearchRequest) (*poiapi.SearchPage, error)); ok {
		return rf(ctx, req)
	}
	if rf, ok := ret.Get(0).(func(context.Context, poiapi.SearchRequest) *poiapi.SearchPage); ok {
		r0 = rf(ctx, req)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*poiapi.SearchPage)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, poiapi.SearchRequest) error); ok {
		r1 = rf(ctx, req)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// Detail provides a mock function with given fields: ctx, id
func (_m *MockClient) Detail(ctx context.Context, id string) (json.RawMessage, error) {
	ret := _m.Called(ctx, id)

	if len(ret) == 0 {
		panic("no return value specified for Detail")
	}

	var r0 json.RawMessage
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string) (json.RawMessage, error)); ok {
		return rf(ctx, id)
	}
	if rf, ok := ret.Get(0).(func(context.Context, string) json.RawMessage); ok {
		r0 = rf(ctx, id)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(json.RawMessage)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, string) error); ok {
		r1 = rf(ctx, id)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockClient creates a new instance of MockClient.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	mock := &MockClient{}
	mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
