package queue

import (
	"context"
	"time"

	"github.com/looplab/fsm"

	"github.com/julianstephens/habitgarden/internal/models"
)

const (
	EventStart   = "start"
	EventSucceed = "succeed"
	EventFail    = "fail"
	EventRequeue = "requeue"
)

var (
	statePending    = string(models.StatusPending)
	stateInProgress = string(models.StatusInProgress)
	stateCompleted  = string(models.StatusCompleted)
	stateFailed     = string(models.StatusFailed)
)

var operationEvents = fsm.Events{
	{Name: EventStart, Src: []string{statePending, stateFailed}, Dst: stateInProgress},
	{Name: EventSucceed, Src: []string{stateInProgress}, Dst: stateCompleted},
	{Name: EventFail, Src: []string{stateInProgress}, Dst: stateFailed},
	// Crash recovery and manual retry
	{Name: EventRequeue, Src: []string{stateInProgress, stateFailed}, Dst: statePending},
}

// fire applies event to op in place. cause is recorded on EventFail.
// An event that is not valid from op's current status leaves op untouched and
// returns the fsm error.
func fire(ctx context.Context, op *models.PendingOperation, event string, now time.Time, cause error) error {
	next := *op
	machine := fsm.NewFSM(
		string(op.Status),
		operationEvents,
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				next.Status = models.OperationStatus(e.Dst)
				next.UpdatedAt = now
			},
			"after_" + EventFail: func(_ context.Context, e *fsm.Event) {
				next.RetryCount++
				if cause != nil {
					next.LastError = cause.Error()
				}
			},
			"after_" + EventSucceed: func(_ context.Context, e *fsm.Event) {
				next.LastError = ""
			},
		},
	)

	if err := machine.Event(ctx, event); err != nil {
		return err
	}
	*op = next
	return nil
}
