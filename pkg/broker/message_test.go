package broker_test

import (
	"testing"

	"github.com/matsim-go/qsim/pkg/broker"
	"github.com/matsim-go/qsim/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	msg := broker.Message{
		From: 1,
		To:   2,
		Time: 42,
		Vehicles: []broker.VehicleCrossing{
			{Vehicle: model.Vehicle{ID: "veh-1"}, IntoLink: "link-9"},
		},
	}

	data, err := broker.Encode(msg)
	require.NoError(t, err)

	decoded, err := broker.Decode(data)
	require.NoError(t, err)

	assert.Equal(t, msg.From, decoded.From)
	assert.Equal(t, msg.To, decoded.To)
	assert.Equal(t, msg.Time, decoded.Time)
	require.Len(t, decoded.Vehicles, 1)
	assert.Equal(t, model.VehicleID("veh-1"), decoded.Vehicles[0].Vehicle.ID)
	assert.Equal(t, model.LinkID("link-9"), decoded.Vehicles[0].IntoLink)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := broker.Decode([]byte{0xff, 0x00, 0x01})
	assert.Error(t, err)
}
