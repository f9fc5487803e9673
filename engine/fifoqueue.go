package engine

import (
	"github.com/nightshard/shardnode/engine/common/fifoqueue"
)

// FifoMessageStore is a MessageStore keeping messages in arrival order.
type FifoMessageStore struct {
	queue *fifoqueue.FifoQueue
}

var _ MessageStore = (*FifoMessageStore)(nil)

// NewFifoMessageStore creates a store holding at most maxCapacity messages.
// No errors are expected during normal operations.
func NewFifoMessageStore(maxCapacity int, options ...fifoqueue.ConstructorOption) (*FifoMessageStore, error) {
	queue, err := fifoqueue.NewFifoQueue(maxCapacity, options...)
	if err != nil {
		return nil, err
	}
	return &FifoMessageStore{queue: queue}, nil
}

// Put appends the message. Returns false if the store is full.
func (s *FifoMessageStore) Put(msg *Message) bool {
	return s.queue.Push(msg)
}

// Get removes and returns the oldest message.
func (s *FifoMessageStore) Get() (*Message, bool) {
	element, ok := s.queue.Pop()
	if !ok {
		return nil, false
	}
	msg, ok := element.(*Message)
	return msg, ok
}

// Len returns the number of stored messages.
func (s *FifoMessageStore) Len() int {
	return s.queue.Len()
}
