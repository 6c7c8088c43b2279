// Package migration moves a partition's full entity graph between sites.
package migration

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/labmesh-io/labmesh-engine/pkg/sites"
)

// Step names the phases of a partition move, in execution order.
type Step string

const (
	StepValidating            Step = "validating"
	StepCopyingGroup          Step = "copying_group"
	StepCopyingMembers        Step = "copying_members"
	StepCopyingProjects       Step = "copying_projects"
	StepCopyingParticipations Step = "copying_participations"
	StepRewriting             Step = "rewriting"
	StepDeletingSource        Step = "deleting_source"
	StepDone                  Step = "done"
)

// Run states persisted in the step log.
const (
	StateRunning = "running"
	StateFailed  = "failed"
	StateDone    = "done"
)

// Run is one persisted migration attempt.
type Run struct {
	ID      uuid.UUID
	GroupID string
	OldRoom string
	NewRoom string
	Step    Step
	State   string
	Detail  string
}

// StepLog persists migration progress at the global site. A run left in a
// non-done state blocks re-entry for its group until an operator resolves
// the partial state and marks the run done or removes it.
type StepLog interface {
	// ActiveRun returns the most recent unfinished run for a group, or nil.
	ActiveRun(ctx context.Context, groupID string) (*Run, error)

	// Begin persists a new run in StateRunning.
	Begin(ctx context.Context, run *Run) error

	// Update advances a run's step, state and detail.
	Update(ctx context.Context, runID uuid.UUID, step Step, state, detail string) error
}

// sqlStepLog stores runs in the migration_log table at the global site.
type sqlStepLog struct {
	runner sites.QueryRunner
}

// NewStepLog creates the global-site step log.
func NewStepLog(runner sites.QueryRunner) StepLog {
	return &sqlStepLog{runner: runner}
}

func (l *sqlStepLog) ActiveRun(ctx context.Context, groupID string) (*Run, error) {
	res, err := l.runner.QueryAt(ctx, sites.SiteGlobal,
		"SELECT id, group_id, old_room, new_room, step, state, detail FROM migration_log WHERE group_id = ? AND state <> ?",
		groupID, StateDone)
	if err != nil {
		return nil, fmt.Errorf("read migration log: %w", err)
	}
	if res.RowCount == 0 {
		return nil, nil
	}

	row := res.Rows[0]
	id, err := uuid.Parse(sites.StringField(row, "id"))
	if err != nil {
		return nil, fmt.Errorf("parse migration run id: %w", err)
	}
	return &Run{
		ID:      id,
		GroupID: sites.StringField(row, "group_id"),
		OldRoom: sites.StringField(row, "old_room"),
		NewRoom: sites.StringField(row, "new_room"),
		Step:    Step(sites.StringField(row, "step")),
		State:   sites.StringField(row, "state"),
		Detail:  sites.StringField(row, "detail"),
	}, nil
}

func (l *sqlStepLog) Begin(ctx context.Context, run *Run) error {
	_, err := l.runner.Exec(ctx, sites.SiteGlobal,
		"INSERT INTO migration_log (id, group_id, old_room, new_room, step, state, detail, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		run.ID.String(), run.GroupID, run.OldRoom, run.NewRoom, string(run.Step), run.State, run.Detail, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record migration run: %w", err)
	}
	return nil
}

func (l *sqlStepLog) Update(ctx context.Context, runID uuid.UUID, step Step, state, detail string) error {
	_, err := l.runner.Exec(ctx, sites.SiteGlobal,
		"UPDATE migration_log SET step = ?, state = ?, detail = ?, updated_at = ? WHERE id = ?",
		string(step), state, detail, time.Now().UTC(), runID.String())
	if err != nil {
		return fmt.Errorf("update migration run: %w", err)
	}
	return nil
}
