package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestView_QueuedOverridesBuild(t *testing.T) {
	a := NewAggregator(nil)
	apply(t, a, []update{
		{"api-users", "alpha", BuildStatus, "FAILURE"},
		{"api-users", "alpha", InQueueSince, "1700000000000"},
		{"api-users", "prod", DeployStatus, "IN_PROGRESS"},
	})

	v := a.View("")
	require.Len(t, v.Jobs, 1)
	row := v.Jobs[0]
	assert.Equal(t, "api-users", row.Name)
	assert.Equal(t, JobTypeAPI, row.Type)
	require.Len(t, row.Environments, 3)

	alpha := row.Environments[0]
	assert.Equal(t, Alpha, alpha.Environment)
	assert.Equal(t, Cell{Code: Queued, Text: "Queued", Class: "queued", Icon: "queued.png"}, alpha.Build)
	assert.NotNil(t, alpha.InQueueSince)

	assert.Equal(t, Cell{}, row.Environments[1].Build)
	assert.Equal(t, Cell{}, row.Environments[1].Deploy)
	assert.Equal(t, "Deploying", row.Environments[2].Deploy.Text)

	// The stored build status still drives the verdict.
	assert.Equal(t, Failure, v.Overall.BuildStatus)
	assert.Equal(t, "failed.png", v.Icon)
}

func TestView_Filter(t *testing.T) {
	a := NewAggregator(nil)
	apply(t, a, []update{
		{"api-users", "prod", BuildStatus, "SUCCESS"},
		{"api-orders", "prod", BuildStatus, "BUILDING"},
		{"webui-portal", "prod", BuildStatus, "SUCCESS"},
	})

	tests := []struct {
		filter string
		want   []string
	}{
		{"", []string{"api-orders", "api-users", "webui-portal"}},
		{"api", []string{"api-orders", "api-users"}},
		{"API", []string{"api-orders", "api-users"}},
		{"portal", []string{"webui-portal"}},
		{"nothing", nil},
	}

	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			v := a.View(tt.filter)
			var names []string
			for _, row := range v.Jobs {
				names = append(names, row.Name)
			}
			assert.Equal(t, tt.want, names)
			assert.Equal(t, len(tt.want) == 0, v.NoResults)
			assert.Equal(t, Building, v.Overall.Status, "verdict ignores the filter")
		})
	}
}

func TestView_Empty(t *testing.T) {
	v := NewAggregator(nil).View("")
	assert.True(t, v.NoResults)
	assert.Empty(t, v.Jobs)
	assert.Equal(t, "Success", v.Build.Text)
	assert.Equal(t, "Completed", v.Deploy.Text)
	assert.Equal(t, "success.png", v.Icon)
}

func TestNewCell(t *testing.T) {
	assert.Equal(t, Cell{}, NewCell(""))
	assert.Equal(t, Cell{Code: "MYSTERY"}, NewCell("MYSTERY"))
}
