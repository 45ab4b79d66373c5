package status

import (
	"fmt"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type update struct {
	job   string
	env   string
	field Field
	raw   string
}

func apply(t *testing.T, a *Aggregator, updates []update) {
	t.Helper()
	for _, u := range updates {
		require.NoError(t, a.UpdateField(u.job, u.env, u.field, u.raw))
	}
}

func TestUpdateField_SetAndClear(t *testing.T) {
	a := NewAggregator(nil)

	require.NoError(t, a.UpdateField("api-users", "beta", DeployStatus, "IN_PROGRESS"))
	job, ok := a.Job("api-users")
	require.True(t, ok)
	require.NotNil(t, job.Env(Beta).DeployStatus)
	assert.Equal(t, InProgress, *job.Env(Beta).DeployStatus)
	assert.Nil(t, job.Env(Alpha).DeployStatus)

	require.NoError(t, a.UpdateField("api-users", "beta", DeployStatus, ""))
	job, _ = a.Job("api-users")
	assert.Nil(t, job.Env(Beta).DeployStatus, "cleared field reads back absent")
	assert.Equal(t, 1, a.Len(), "jobs are never removed")
}

func TestUpdateField_InQueueSince(t *testing.T) {
	a := NewAggregator(nil)

	require.NoError(t, a.UpdateField("db-core", "alpha", InQueueSince, "1700000000000"))
	job, _ := a.Job("db-core")
	require.NotNil(t, job.Env(Alpha).InQueueSince)
	assert.True(t, time.UnixMilli(1700000000000).Equal(*job.Env(Alpha).InQueueSince))

	require.NoError(t, a.UpdateField("db-core", "alpha", InQueueSince, ""))
	job, _ = a.Job("db-core")
	assert.Nil(t, job.Env(Alpha).InQueueSince)
}

func TestUpdateField_Rejected(t *testing.T) {
	tests := []struct {
		name string
		u    update
		want error
	}{
		{"unknown environment", update{"api-x", "gamma", BuildStatus, "SUCCESS"}, ErrInvalidEnvironment},
		{"unknown field", update{"api-x", "prod", Field("colour"), "red"}, ErrInvalidField},
		{"unknown field cleared", update{"api-x", "prod", Field("colour"), ""}, ErrInvalidField},
		{"bad timestamp", update{"api-x", "prod", InQueueSince, "soon"}, ErrInvalidTimestamp},
		{"empty job", update{"", "prod", BuildStatus, "SUCCESS"}, ErrInvalidJob},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAggregator(nil)
			err := a.UpdateField(tt.u.job, tt.u.env, tt.u.field, tt.u.raw)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, 0, a.Len(), "rejected update must not create a job")
		})
	}
}

func TestJob_ReturnsCopy(t *testing.T) {
	a := NewAggregator(nil)
	require.NoError(t, a.UpdateField("api-x", "prod", BuildStatus, "SUCCESS"))

	job, _ := a.Job("api-x")
	*job.Environments[2].BuildStatus = Failure

	again, _ := a.Job("api-x")
	assert.Equal(t, Success, *again.Env(Prod).BuildStatus)
}

func TestComputeOverall(t *testing.T) {
	tests := []struct {
		name    string
		updates []update
		want    Overall
	}{
		{
			name: "empty registry",
			want: Overall{Success, Completed, Completed},
		},
		{
			name: "all green",
			updates: []update{
				{"api-a", "alpha", BuildStatus, "SUCCESS"},
				{"api-a", "alpha", DeployStatus, "COMPLETED"},
			},
			want: Overall{Success, Completed, Completed},
		},
		{
			name: "last non-success build wins",
			updates: []update{
				{"a", "alpha", BuildStatus, "FAILURE"},
				{"b", "alpha", BuildStatus, "UNSTABLE"},
			},
			want: Overall{Unstable, Completed, Unstable},
		},
		{
			name: "building is sticky once seen",
			updates: []update{
				{"a", "alpha", BuildStatus, "BUILDING"},
				{"b", "alpha", BuildStatus, "FAILURE"},
			},
			want: Overall{Building, Completed, Building},
		},
		{
			name: "building seen after failure",
			updates: []update{
				{"a", "alpha", BuildStatus, "FAILURE"},
				{"b", "alpha", BuildStatus, "BUILDING"},
			},
			want: Overall{Building, Completed, Building},
		},
		{
			name: "environments visited alpha beta prod",
			updates: []update{
				{"a", "prod", BuildStatus, "ABORTED"},
				{"a", "alpha", BuildStatus, "FAILURE"},
			},
			want: Overall{Aborted, Completed, Aborted},
		},
		{
			name: "deploy only when build is green",
			updates: []update{
				{"a", "alpha", BuildStatus, "SUCCESS"},
				{"a", "beta", DeployStatus, "FAILED"},
				{"b", "beta", DeployStatus, "IN_PROGRESS"},
			},
			want: Overall{Success, InProgress, InProgress},
		},
		{
			name: "build outranks deploy",
			updates: []update{
				{"a", "alpha", BuildStatus, "FAILURE"},
				{"a", "beta", DeployStatus, "FAILED"},
			},
			want: Overall{Failure, Failed, Failure},
		},
		{
			name: "queue marker does not affect the verdict",
			updates: []update{
				{"a", "alpha", InQueueSince, "1700000000000"},
			},
			want: Overall{Success, Completed, Completed},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAggregator(nil)
			apply(t, a, tt.updates)
			assert.Equal(t, tt.want, a.ComputeOverall())
		})
	}
}

func TestComputeOverall_IndependentOfArrivalOrder(t *testing.T) {
	faker := gofakeit.New(20231023)
	codes := []string{"SUCCESS", "FAILURE", "UNSTABLE", "ABORTED", "BUILDING", "NOT_BUILT"}
	deploys := []string{"COMPLETED", "IN_PROGRESS", "FAILED"}

	var updates []update
	for i := 0; i < 40; i++ {
		job := fmt.Sprintf("%s-%d", faker.Word(), i)
		env := string(Environments[faker.Number(0, 2)])
		updates = append(updates,
			update{job, env, BuildStatus, codes[faker.Number(0, len(codes)-1)]},
			update{job, env, DeployStatus, deploys[faker.Number(0, len(deploys)-1)]},
		)
	}

	first := NewAggregator(nil)
	apply(t, first, updates)

	for round := 0; round < 5; round++ {
		shuffled := append([]update(nil), updates...)
		faker.ShuffleAnySlice(shuffled)

		other := NewAggregator(nil)
		apply(t, other, shuffled)
		assert.Equal(t, first.ComputeOverall(), other.ComputeOverall())
	}
}

func TestJobs_Sorted(t *testing.T) {
	a := NewAggregator(nil)
	apply(t, a, []update{
		{"webui-b", "prod", BuildStatus, "SUCCESS"},
		{"api-a", "prod", BuildStatus, "SUCCESS"},
		{"db-c", "prod", BuildStatus, "SUCCESS"},
	})
	assert.Equal(t, []string{"api-a", "db-c", "webui-b"}, a.Jobs())
}
