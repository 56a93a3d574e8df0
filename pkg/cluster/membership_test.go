package cluster_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matsim-go/qsim/pkg/cluster"
)

func TestManagerAddActivateRemove(t *testing.T) {
	m := cluster.NewManager()

	require.NoError(t, m.AddMember("0", "", true))
	require.NoError(t, m.AddMember("1", "", true))
	assert.Equal(t, 2, m.Count())

	member, ok := m.GetMember("0")
	require.True(t, ok)
	assert.Equal(t, cluster.MemberStateJoining, member.State)

	require.NoError(t, m.ActivateMember("0"))
	member, ok = m.GetMember("0")
	require.True(t, ok)
	assert.Equal(t, cluster.MemberStateActive, member.State)

	require.NoError(t, m.RemoveMember("0"))
	assert.Equal(t, 1, m.Count(), "a removed partition no longer counts toward the roster")
	_, ok = m.GetMember("0")
	assert.False(t, ok)
}

func TestManagerRejectsDuplicateAdd(t *testing.T) {
	m := cluster.NewManager()
	require.NoError(t, m.AddMember("0", "", true))
	assert.Error(t, m.AddMember("0", "", true))
}

func TestManagerRejectsUnknownMember(t *testing.T) {
	m := cluster.NewManager()
	assert.Error(t, m.ActivateMember("missing"))
	assert.Error(t, m.RemoveMember("missing"))
}
