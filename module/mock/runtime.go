package mock

import (
	"github.com/stretchr/testify/mock"

	"github.com/nightshard/shardnode/model/flow"
	"github.com/nightshard/shardnode/module"
)

// Runtime is a mock type for the module.Runtime type
type Runtime struct {
	mock.Mock
}

// Apply provides a mock function with given fields: shard, priorRoot, txs, incoming
func (_m *Runtime) Apply(shard flow.ShardID, priorRoot flow.Identifier, txs []*flow.Transaction, incoming []*flow.Receipt) (*module.ApplyResult, error) {
	ret := _m.Called(shard, priorRoot, txs, incoming)

	var r0 *module.ApplyResult
	if rf, ok := ret.Get(0).(func(flow.ShardID, flow.Identifier, []*flow.Transaction, []*flow.Receipt) *module.ApplyResult); ok {
		r0 = rf(shard, priorRoot, txs, incoming)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).(*module.ApplyResult)
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(flow.ShardID, flow.Identifier, []*flow.Transaction, []*flow.Receipt) error); ok {
		r1 = rf(shard, priorRoot, txs, incoming)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}
