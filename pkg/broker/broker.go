package broker

import "github.com/matsim-go/qsim/pkg/model"

// MessageBroker is the transport abstraction the worker loop synchronizes
// through (§4.7). Implementations must deliver messages from the same sender
// to the same receiver in send order; the barrier protocol relies on FIFO
// per-neighbour delivery, not global ordering.
type MessageBroker interface {
	// Send delivers msg to the partition named in msg.To. Send must not block
	// on the receiver draining its inbox; a buffered channel or equivalent is
	// the implementor's responsibility.
	Send(msg Message) error

	// Inbox returns the channel a partition reads its incoming messages from.
	// Registered once per partition at broker construction time.
	Inbox(partition model.PartitionID) (<-chan Message, error)

	// Close releases any transport resources (connections, listeners).
	Close() error
}
