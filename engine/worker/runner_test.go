package worker

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"xsell/database"
	"xsell/database/model"
	"xsell/engine/service"
	"xsell/panel"
	"xsell/util/common"
)

func setup() {
	dbPath := "test.db"
	os.Remove(dbPath)
	database.InitDB(dbPath)
}

func teardown() {
	db, _ := database.GetDB().DB()
	db.Close()
	os.Remove("test.db")
}

// drive claims and dispatches until the task settles, pulling the retry
// backoff forward so the test does not sleep through it.
func drive(t *testing.T, r *Runner, svc *service.TaskService) *model.Task {
	t.Helper()

	for i := 0; i < 10; i++ {
		database.GetDB().Model(&model.Task{}).
			Where("status = ?", model.TaskQueued).
			Update("next_run_at", time.Now().UnixMilli())

		task, err := svc.Claim()
		assert.NoError(t, err)
		if task == nil {
			var settled model.Task
			database.GetDB().First(&settled)
			return &settled
		}
		r.dispatch(task)
	}
	t.Fatal("task did not settle")
	return nil
}

func TestDispatchCompletesTask(t *testing.T) {
	setup()
	defer teardown()

	svc := &service.TaskService{}
	r := NewRunner(1, 3)

	handled := 0
	r.Register("work", func(task *model.Task) error {
		handled++
		return nil
	})

	_, err := svc.Enqueue("work", map[string]any{}, "k-1")
	assert.NoError(t, err)

	settled := drive(t, r, svc)
	assert.Equal(t, model.TaskDone, settled.Status)
	assert.Equal(t, 1, handled)
}

func TestDispatchRetriesTransientFailures(t *testing.T) {
	setup()
	defer teardown()

	svc := &service.TaskService{}
	r := NewRunner(1, 3)

	exhausted := 0
	r.Register("flaky", func(task *model.Task) error {
		return errors.New("panel unreachable")
	})
	r.RegisterExhausted("flaky", func(task *model.Task) {
		exhausted++
	})

	_, err := svc.Enqueue("flaky", map[string]any{}, "k-1")
	assert.NoError(t, err)

	settled := drive(t, r, svc)
	assert.Equal(t, model.TaskFailed, settled.Status)
	assert.Equal(t, 3, settled.Attempts)
	assert.Equal(t, "panel unreachable", settled.LastError)
	assert.Equal(t, 1, exhausted)
}

func TestDispatchFatalFailureSkipsRetries(t *testing.T) {
	setup()
	defer teardown()

	svc := &service.TaskService{}
	r := NewRunner(1, 5)

	attempts := 0
	r.Register("doomed", func(task *model.Task) error {
		attempts++
		return &panel.Error{Kind: panel.KindValidation, Op: "add client"}
	})

	_, err := svc.Enqueue("doomed", map[string]any{}, "k-1")
	assert.NoError(t, err)

	settled := drive(t, r, svc)
	assert.Equal(t, model.TaskFailed, settled.Status)
	assert.Equal(t, 1, attempts)
}

func TestDispatchFatalLocalErrorSkipsRetries(t *testing.T) {
	setup()
	defer teardown()

	svc := &service.TaskService{}
	r := NewRunner(1, 5)

	attempts := 0
	r.Register("garbled", func(task *model.Task) error {
		attempts++
		return common.NewFatalErrorf("malformed provision payload: unexpected end of JSON input")
	})

	exhausted := 0
	r.RegisterExhausted("garbled", func(task *model.Task) { exhausted++ })

	_, err := svc.Enqueue("garbled", map[string]any{}, "k-1")
	assert.NoError(t, err)

	settled := drive(t, r, svc)
	assert.Equal(t, model.TaskFailed, settled.Status)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, exhausted)
}

func TestDispatchRecoversAfterTransientFailure(t *testing.T) {
	setup()
	defer teardown()

	svc := &service.TaskService{}
	r := NewRunner(1, 3)

	calls := 0
	r.Register("eventually", func(task *model.Task) error {
		calls++
		if calls < 2 {
			return &panel.Error{Kind: panel.KindNetwork, Op: "login"}
		}
		return nil
	})

	_, err := svc.Enqueue("eventually", map[string]any{}, "k-1")
	assert.NoError(t, err)

	settled := drive(t, r, svc)
	assert.Equal(t, model.TaskDone, settled.Status)
	assert.Equal(t, 2, calls)
}

func TestDispatchWithoutHandlerFails(t *testing.T) {
	setup()
	defer teardown()

	svc := &service.TaskService{}
	r := NewRunner(1, 3)

	exhausted := 0
	r.RegisterExhausted("orphan", func(task *model.Task) {
		exhausted++
	})

	_, err := svc.Enqueue("orphan", map[string]any{}, "k-1")
	assert.NoError(t, err)

	settled := drive(t, r, svc)
	assert.Equal(t, model.TaskFailed, settled.Status)
	assert.Equal(t, 1, exhausted)
}

func TestRunnerStartStop(t *testing.T) {
	setup()
	defer teardown()

	r := NewRunner(2, 3)
	done := make(chan struct{})
	r.Register("ping", func(task *model.Task) error {
		close(done)
		return nil
	})

	r.Start()
	defer r.Stop()

	svc := &service.TaskService{}
	_, err := svc.Enqueue("ping", map[string]any{}, "k-1")
	assert.NoError(t, err)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("task was never picked up")
	}
}
