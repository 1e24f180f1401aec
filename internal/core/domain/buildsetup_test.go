package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSetup() BuildSetup {
	return BuildSetup{BuildPackName: "python", DeployBranch: "main"}
}

func TestBuildSetupValidate_TriggerCondition(t *testing.T) {
	tests := []struct {
		name    string
		branch  string
		tag     string
		wantErr error
	}{
		{"branch only", "main", "", nil},
		{"tag only", "", `v\d+`, nil},
		{"neither", "", "", ErrTriggerCondition},
		{"both", "main", `v\d+`, ErrTriggerCondition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setup := BuildSetup{BuildPackName: "python", DeployBranch: tt.branch, DeployTag: tt.tag}
			err := setup.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBuildSetupValidate_Defaults(t *testing.T) {
	setup := validSetup()
	require.NoError(t, setup.Validate())

	assert.Equal(t, 256, setup.Memory)
	assert.Equal(t, 1, setup.CPU)
	assert.Equal(t, 1, setup.MaxInstances)
	assert.Equal(t, 0, setup.MinInstances)
	assert.Equal(t, 900, setup.Timeout)
	assert.Equal(t, 80, setup.Concurrency)
	assert.Equal(t, 1800, setup.BuildTimeout)
}

func TestBuildSetupValidate_ClampsMaxInstances(t *testing.T) {
	setup := validSetup()
	setup.MaxInstances = -3
	require.NoError(t, setup.Validate())
	assert.Equal(t, 1, setup.MaxInstances)

	setup.MaxInstances = 12
	require.NoError(t, setup.Validate())
	assert.Equal(t, 12, setup.MaxInstances)
}

func TestBuildSetupValidate_RequiresBuildPack(t *testing.T) {
	setup := BuildSetup{DeployBranch: "main"}
	assert.ErrorIs(t, setup.Validate(), ErrBuildPackRequired)
}

func TestBuildSetupAllLabels(t *testing.T) {
	setup := validSetup()
	setup.Labels = []Label{{Key: "team", Value: "core"}}

	assert.Equal(t, []Label{{Key: "team", Value: "core"}}, setup.AllLabels())

	setup.TriggerID = "trig-123"
	assert.Equal(t, []Label{
		{Key: "team", Value: "core"},
		{Key: "gcb-trigger-id", Value: "trig-123"},
	}, setup.AllLabels())
}

func TestBuildSetupEventDescription(t *testing.T) {
	branch := BuildSetup{DeployBranch: "main"}
	assert.Equal(t, "pushed to main", branch.EventDescription())

	tag := BuildSetup{DeployTag: `v\d+`}
	assert.Equal(t, `tagged v\d+`, tag.EventDescription())
}
