package broker_test

import (
	"testing"

	"github.com/matsim-go/qsim/pkg/broker"
	"github.com/matsim-go/qsim/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalBrokerDeliversToRecipient(t *testing.T) {
	b := broker.NewLocalBroker([]model.PartitionID{0, 1}, 4)
	defer b.Close()

	inbox1, err := b.Inbox(1)
	require.NoError(t, err)

	require.NoError(t, b.Send(broker.Message{From: 0, To: 1, Time: 5}))

	msg := <-inbox1
	assert.Equal(t, model.PartitionID(0), msg.From)
	assert.Equal(t, uint32(5), msg.Time)
}

func TestLocalBrokerUnknownPartition(t *testing.T) {
	b := broker.NewLocalBroker([]model.PartitionID{0}, 4)
	defer b.Close()

	err := b.Send(broker.Message{From: 0, To: 99, Time: 1})
	assert.Error(t, err)
}

func TestLocalBrokerSendAfterCloseFails(t *testing.T) {
	b := broker.NewLocalBroker([]model.PartitionID{0, 1}, 4)
	require.NoError(t, b.Close())

	err := b.Send(broker.Message{From: 0, To: 1, Time: 1})
	assert.Error(t, err)
}
