package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/nightshard/shardnode/model/flow"
)

// PartRequester is a mock type for the module.PartRequester type
type PartRequester struct {
	mock.Mock
}

// RequestParts provides a mock function with given fields: ctx, peer, chunkID, indices
func (_m *PartRequester) RequestParts(ctx context.Context, peer flow.AccountID, chunkID flow.Identifier, indices []uint32) ([]*flow.ChunkPart, error) {
	ret := _m.Called(ctx, peer, chunkID, indices)

	var r0 []*flow.ChunkPart
	if rf, ok := ret.Get(0).(func(context.Context, flow.AccountID, flow.Identifier, []uint32) []*flow.ChunkPart); ok {
		r0 = rf(ctx, peer, chunkID, indices)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).([]*flow.ChunkPart)
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(context.Context, flow.AccountID, flow.Identifier, []uint32) error); ok {
		r1 = rf(ctx, peer, chunkID, indices)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewPartRequester creates a new instance of PartRequester. It also registers
// a cleanup function to assert the mocks expectations.
func NewPartRequester(t mock.TestingT) *PartRequester {
	m := &PartRequester{}
	m.Mock.Test(t)
	if tc, ok := t.(interface{ Cleanup(func()) }); ok {
		tc.Cleanup(func() { m.AssertExpectations(t) })
	}
	return m
}
