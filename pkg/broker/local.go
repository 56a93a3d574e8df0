package broker

import (
	"fmt"
	"sync"

	"github.com/matsim-go/qsim/pkg/model"
	"github.com/matsim-go/qsim/pkg/qsimerrors"
)

// LocalBroker is an in-process MessageBroker: every partition runs as a
// goroutine in the same binary and messages pass over buffered channels, never
// touching the network. Grounded on the raft teacher's LocalTransport, which
// plays the same in-memory-fanout role for RPCs between raft nodes in tests.
type LocalBroker struct {
	mu     sync.RWMutex
	inbox  map[model.PartitionID]chan Message
	closed bool
}

// NewLocalBroker constructs a broker with a registered inbox for each of
// partitions. The channel depth is sized so that one tick's worth of
// cross-partition traffic never blocks a sender mid-barrier.
func NewLocalBroker(partitions []model.PartitionID, inboxDepth int) *LocalBroker {
	b := &LocalBroker{inbox: make(map[model.PartitionID]chan Message, len(partitions))}
	for _, p := range partitions {
		b.inbox[p] = make(chan Message, inboxDepth)
	}
	return b
}

func (b *LocalBroker) Send(msg Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return qsimerrors.ErrChannelClosed
	}
	ch, ok := b.inbox[msg.To]
	if !ok {
		return fmt.Errorf("%w: partition %d", qsimerrors.ErrUnknownPartition, msg.To)
	}
	ch <- msg
	return nil
}

func (b *LocalBroker) Inbox(partition model.PartitionID) (<-chan Message, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ch, ok := b.inbox[partition]
	if !ok {
		return nil, fmt.Errorf("%w: partition %d", qsimerrors.ErrUnknownPartition, partition)
	}
	return ch, nil
}

func (b *LocalBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, ch := range b.inbox {
		close(ch)
	}
	return nil
}
