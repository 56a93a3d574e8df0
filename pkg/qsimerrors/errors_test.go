package qsimerrors_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/matsim-go/qsim/pkg/qsimerrors"
)

func TestFatalWrapsAndUnwraps(t *testing.T) {
	f := qsimerrors.NewFatal(2, 150, "agent starts on unknown link", qsimerrors.ErrScenarioInconsistent)
	assert.True(t, errors.Is(f, qsimerrors.ErrScenarioInconsistent))

	var target *qsimerrors.Fatal
	assert.True(t, errors.As(f, &target))
	assert.Equal(t, 2, target.Partition)
	assert.EqualValues(t, 150, target.Time)
}

func TestFatalErrorMessageWithoutWrappedErr(t *testing.T) {
	f := qsimerrors.NewFatal(0, 0, "no worker spawned", nil)
	assert.Contains(t, f.Error(), "no worker spawned")
}
