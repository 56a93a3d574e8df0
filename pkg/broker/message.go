// Package broker implements inter-partition message exchange for the barrier
// synchronization protocol (§4.7): each simulated second every partition sends
// one message to every neighbour it has a split link with, and blocks until it
// has received one from each in turn, using heartbeats to keep non-blocking
// neighbours from stalling the barrier.
package broker

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/matsim-go/qsim/pkg/model"
)

// VehicleCrossing describes one vehicle handed from one partition to another
// at a split link, carried inside a Message's Vehicles slice.
type VehicleCrossing struct {
	Vehicle  model.Vehicle
	IntoLink model.LinkID
}

// AgentHandoff carries an agent mid-GenericRoute whose teleport destination
// link belongs to another partition (§4.9 "optionally hand off to remote if
// end-link is remote"). Unlike a VehicleCrossing, no Vehicle or Link is
// involved: the receiver simply resumes the agent's teleport-queue wait
// locally and lets it arrive at its own activity in the usual way.
type AgentHandoff struct {
	Agent       model.Agent
	ArrivalTime uint32
}

// Message is one partition-to-partition exchange for a single simulated
// second. A Heartbeat message carries no vehicles or handoffs and exists
// solely to let the barrier protocol distinguish "neighbour has nothing to
// send me this tick" from "neighbour has fallen silent" (§4.7, §5).
type Message struct {
	From      model.PartitionID
	To        model.PartitionID
	Time      uint32
	Heartbeat bool
	Vehicles  []VehicleCrossing
	Handoffs  []AgentHandoff

	// CorrelationID identifies this send for logging/tracing across the
	// barrier, minted once per message by the sending worker.
	CorrelationID string
}

func init() {
	gob.Register(Message{})
}

// Encode gob-encodes a Message for transports that move raw bytes (the gRPC
// broker). The in-process broker never calls this; it passes Message values
// directly over a Go channel.
func Encode(m Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m); err != nil {
		return nil, fmt.Errorf("broker: encode message: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode reverses Encode.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&m); err != nil {
		return Message{}, fmt.Errorf("broker: decode message: %w", err)
	}
	return m, nil
}
