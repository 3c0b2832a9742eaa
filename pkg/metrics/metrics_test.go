package metrics_test

import (
	"errors"
	"strings"
	"testing"

	pkgerrors "github.com/absmach/fedlet/pkg/errors"
	"github.com/absmach/fedlet/pkg/federated"
	"github.com/absmach/fedlet/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserver(t *testing.T) {
	reg := prometheus.NewRegistry()
	o := metrics.NewObserver(reg)

	o.ActionStarted("", federated.ActionGetTasks)
	o.TaskFailed("", federated.ActionGetTasks, pkgerrors.TransportError("get tasks", 0, errors.New("refused")))

	o.TaskBegan("T1")
	o.ActionStarted("T1", federated.ActionGetTask)
	o.TaskCompleted("T1")

	o.TaskBegan("T2")
	o.TaskFailed("T2", federated.ActionStartTask, pkgerrors.ErrJobNotApproved)

	o.TaskBegan("T3")

	expected := `
# HELP fedlet_tasks_total Total number of finished tasks by outcome
# TYPE fedlet_tasks_total counter
fedlet_tasks_total{status="completed"} 1
fedlet_tasks_total{status="failed"} 1
# HELP fedlet_task_failures_total Total number of task failures by action and error kind
# TYPE fedlet_task_failures_total counter
fedlet_task_failures_total{action="GetTasks",kind="transport"} 1
fedlet_task_failures_total{action="StartTask",kind="protocol"} 1
# HELP fedlet_tasks_active Number of task pipelines running
# TYPE fedlet_tasks_active gauge
fedlet_tasks_active 1
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"fedlet_tasks_total", "fedlet_task_failures_total", "fedlet_tasks_active")
	require.NoError(t, err)

	n, err := testutil.GatherAndCount(reg, "fedlet_actions_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
