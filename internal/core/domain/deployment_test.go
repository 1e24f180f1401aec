package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatusClassification(t *testing.T) {
	assert.True(t, StatusQueued.IsFirst())
	assert.False(t, StatusWorking.IsFirst())

	terminal := []Status{StatusSuccess, StatusFailure, StatusInternalError, StatusTimeout, StatusCancelled, StatusExpired}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), string(s))
	}
	assert.False(t, StatusQueued.IsTerminal())
	assert.False(t, StatusWorking.IsTerminal())
	assert.False(t, StatusUnknown.IsTerminal())
}

func TestStatusActionPhrase(t *testing.T) {
	assert.Equal(t, "is about to be deployed to", StatusQueued.ActionPhrase())
	assert.Equal(t, "has been deployed to", StatusSuccess.ActionPhrase())
	assert.Equal(t, "???", Status("SOMETHING_NEW").ActionPhrase())
}

func TestDeploymentDuration(t *testing.T) {
	start := time.Date(2023, 4, 1, 12, 0, 0, 0, time.UTC)
	d := &Deployment{Events: []Event{
		{Status: StatusQueued, CreatedAt: start},
		{Status: StatusWorking, CreatedAt: start.Add(5 * time.Second)},
		{Status: StatusSuccess, CreatedAt: start.Add(95 * time.Second)},
	}}

	assert.Equal(t, 95*time.Second, d.Duration())
	assert.True(t, d.Done())
	assert.Equal(t, StatusSuccess, d.Latest().Status)
	assert.Equal(t, StatusWorking, d.Previous().Status)
}

func TestDeploymentEmpty(t *testing.T) {
	d := &Deployment{}
	assert.Nil(t, d.Latest())
	assert.Nil(t, d.Previous())
	assert.Zero(t, d.Duration())
	assert.False(t, d.Done())
}
