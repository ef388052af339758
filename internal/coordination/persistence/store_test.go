package persistence

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type fakeTask struct {
	ID     string
	Status string
}

func TestPutGetTask(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.PutTask("t1", fakeTask{ID: "t1", Status: "running"}))

	var got fakeTask
	found, err := s.GetTask("t1", &got)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "running", got.Status)
}

func TestGetTaskMissing(t *testing.T) {
	s := testStore(t)

	var got fakeTask
	found, err := s.GetTask("nope", &got)
	require.NoError(t, err)
	require.False(t, found)
}

func TestDeleteTask(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.PutTask("t1", fakeTask{ID: "t1"}))
	require.NoError(t, s.DeleteTask("t1"))

	var got fakeTask
	found, err := s.GetTask("t1", &got)
	require.NoError(t, err)
	require.False(t, found)
}

func TestAllTasks(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.PutTask("t1", fakeTask{ID: "t1"}))
	require.NoError(t, s.PutTask("t2", fakeTask{ID: "t2"}))

	all, err := s.AllTasks()
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Contains(t, all, "t1")
	require.Contains(t, all, "t2")
}

func TestPutGetAggregate(t *testing.T) {
	s := testStore(t)
	snapshot := map[string]interface{}{"queue_depth": 3}
	require.NoError(t, s.PutAggregate("shutdown", snapshot))

	var out map[string]interface{}
	found, err := s.GetAggregate("shutdown", &out)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, float64(3), out["queue_depth"])
}

func TestPutWorkflowIncrementsVersion(t *testing.T) {
	s := testStore(t)

	v1, err := s.PutWorkflow("wf1", map[string]string{"stage": "draft"})
	require.NoError(t, err)
	require.Equal(t, 1, v1)

	v2, err := s.PutWorkflow("wf1", map[string]string{"stage": "final"})
	require.NoError(t, err)
	require.Equal(t, 2, v2)

	version, err := s.GetWorkflowVersion("wf1")
	require.NoError(t, err)
	require.Equal(t, 2, version)

	var out map[string]string
	found, err := s.GetWorkflow("wf1", &out)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "final", out["stage"])
}

func TestCheckpointRoundTrip(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.PutCheckpoint("wf1", 1, map[string]int{"step": 1}))
	require.NoError(t, s.PutCheckpoint("wf1", 2, map[string]int{"step": 2}))

	var out map[string]int
	found, err := s.LatestCheckpoint("wf1", &out)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 2, out["step"])
}

func TestLatestCheckpointMissing(t *testing.T) {
	s := testStore(t)
	var out map[string]int
	found, err := s.LatestCheckpoint("no-such-workflow", &out)
	require.NoError(t, err)
	require.False(t, found)
}

func TestExecutionHistory(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.PutExecution("wf1", "exec-a", map[string]string{"status": "completed"}))
	require.NoError(t, s.PutExecution("wf1", "exec-b", map[string]string{"status": "failed"}))
	require.NoError(t, s.PutExecution("wf2", "exec-c", map[string]string{"status": "completed"}))

	list, err := s.ListExecutions("wf1")
	require.NoError(t, err)
	require.Len(t, list, 2)
}
