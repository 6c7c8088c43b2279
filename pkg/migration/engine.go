package migration

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/labmesh-io/labmesh-engine/pkg/apperrors"
	"github.com/labmesh-io/labmesh-engine/pkg/locking"
	"github.com/labmesh-io/labmesh-engine/pkg/models"
	"github.com/labmesh-io/labmesh-engine/pkg/repositories"
	"github.com/labmesh-io/labmesh-engine/pkg/routing"
	"github.com/labmesh-io/labmesh-engine/pkg/sites"
)

// ErrSamePartition is returned when a move targets the partition the group
// already lives in. Callers wanting only a display change use the rename
// path instead.
var ErrSamePartition = errors.New("target partition equals current partition")

// IDAllocator is the slice of the identifier allocator the engine needs.
type IDAllocator interface {
	Lock(site sites.SiteID, roomCode, tag string) func()
	AllocateLocked(ctx context.Context, site sites.SiteID, roomCode, tag string) (string, error)
}

// Engine moves one group and everything it owns from its current partition
// to another. The move copies rows site to site in a fixed table order,
// rewrites identifiers through a mapping built during the run, then deletes
// the source rows in reverse order. Steps commit independently: a failure
// mid-run leaves both sites partially written, which is why every step is
// persisted to the step log and an unfinished run blocks re-entry until an
// operator has reconciled the data.
type Engine struct {
	groups   repositories.GroupRepository
	members  repositories.MemberRepository
	projects repositories.ProjectRepository
	parts    repositories.ParticipationRepository
	store    routing.Store
	alloc    IDAllocator
	log      StepLog
	locks    *locking.KeyedMutex
	logger   *zap.Logger
}

// NewEngine creates a migration engine.
func NewEngine(
	groups repositories.GroupRepository,
	members repositories.MemberRepository,
	projects repositories.ProjectRepository,
	parts repositories.ParticipationRepository,
	store routing.Store,
	alloc IDAllocator,
	log StepLog,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		groups:   groups,
		members:  members,
		projects: projects,
		parts:    parts,
		store:    store,
		alloc:    alloc,
		log:      log,
		locks:    locking.NewKeyedMutex(),
		logger:   logger,
	}
}

// collectedRow is a participation row found during the cross-site union,
// remembered with the site it was read from.
type collectedRow struct {
	row    models.Participation
	origin sites.SiteID
}

// Move migrates groupID's whole graph to the partition newRoom and renames
// the group to newName. Returns the group as stored at the target site.
//
// Concurrent moves of the same group are serialized in-process and rejected
// across processes through the persisted step log.
func (e *Engine) Move(ctx context.Context, groupID, newRoom, newName string) (*models.Group, error) {
	if !e.locks.TryLock(groupID) {
		return nil, fmt.Errorf("%w: group %q", apperrors.ErrMigrationInProgress, groupID)
	}
	defer e.locks.Unlock(groupID)

	prior, err := e.log.ActiveRun(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		return nil, fmt.Errorf("%w: group %q has an unfinished run %s (step %s, state %s)",
			apperrors.ErrMigrationInProgress, groupID, prior.ID, prior.Step, prior.State)
	}

	// Validating. Everything here fails before any row is written, so no
	// run is persisted yet.
	oldRoom, err := routing.RoomCode(groupID)
	if err != nil {
		return nil, err
	}
	if newRoom == oldRoom {
		return nil, fmt.Errorf("%w: %q", ErrSamePartition, newRoom)
	}
	oldSite, err := e.store.Lookup(ctx, oldRoom)
	if err != nil {
		return nil, err
	}
	newSite, err := e.store.Lookup(ctx, newRoom)
	if err != nil {
		return nil, err
	}
	if newSite == oldSite {
		return nil, fmt.Errorf("%w: partition %q is also on site %q", ErrSamePartition, newRoom, oldSite)
	}
	group, err := e.groups.GetByRoom(ctx, oldSite, oldRoom)
	if err != nil {
		return nil, err
	}
	if group.ID != groupID {
		return nil, fmt.Errorf("%w: group %q", apperrors.ErrNotFound, groupID)
	}
	if newName == "" {
		newName = group.Name
	}

	run := &Run{
		ID:      uuid.New(),
		GroupID: groupID,
		OldRoom: oldRoom,
		NewRoom: newRoom,
		Step:    StepValidating,
		State:   StateRunning,
	}
	if err := e.log.Begin(ctx, run); err != nil {
		return nil, err
	}

	e.logger.Info("partition move started",
		zap.String("group_id", groupID),
		zap.String("old_room", oldRoom),
		zap.String("new_room", newRoom),
		zap.String("old_site", string(oldSite)),
		zap.String("new_site", string(newSite)),
		zap.String("run_id", run.ID.String()),
	)

	state := &moveState{
		run:     run,
		oldRoom: oldRoom,
		newRoom: newRoom,
		oldSite: oldSite,
		newSite: newSite,
		group:   group,
		newName: newName,
		mapping: make(map[string]string),
	}

	steps := []struct {
		step Step
		fn   func(context.Context, *moveState) error
	}{
		{StepCopyingGroup, e.copyGroup},
		{StepCopyingMembers, e.copyMembers},
		{StepCopyingProjects, e.copyProjects},
		{StepCopyingParticipations, e.copyParticipations},
		{StepRewriting, e.rewriteGroup},
		{StepDeletingSource, e.deleteSource},
	}
	for _, s := range steps {
		if err := e.log.Update(ctx, run.ID, s.step, StateRunning, ""); err != nil {
			return nil, err
		}
		if err := s.fn(ctx, state); err != nil {
			partial := &apperrors.MigrationPartialError{
				GroupID: groupID,
				Step:    string(s.step),
				Err:     err,
			}
			if logErr := e.log.Update(ctx, run.ID, s.step, StateFailed, partial.Error()); logErr != nil {
				e.logger.Error("failed to mark migration run failed",
					zap.String("run_id", run.ID.String()),
					zap.Error(logErr),
				)
			}
			return nil, partial
		}
	}

	if err := e.log.Update(ctx, run.ID, StepDone, StateDone, ""); err != nil {
		return nil, err
	}
	e.logger.Info("partition move finished",
		zap.String("group_id", groupID),
		zap.String("new_group_id", state.newGroupID),
		zap.String("run_id", run.ID.String()),
	)

	return &models.Group{ID: state.newGroupID, RoomCode: newRoom, Name: newName}, nil
}

type moveState struct {
	run     *Run
	oldRoom string
	newRoom string
	oldSite sites.SiteID
	newSite sites.SiteID
	group   *models.Group
	newName string

	newGroupID string
	// mapping records old identifier to new identifier for every row this
	// run rewrote. Scoped to one run; never shared.
	mapping map[string]string
	// moved are the participation rows inserted at the target site, with
	// their origin, so deleteSource can remove the originals wherever they
	// were found.
	moved []collectedRow
	// rewritten are rows updated in place at a third site (member side
	// remapped, project side staying put).
	rewritten []collectedRow
	// stale are rows at the old site whose endpoints no longer exist;
	// they leave with the partition.
	stale []collectedRow
}

func (e *Engine) copyGroup(ctx context.Context, st *moveState) error {
	unlock := e.alloc.Lock(st.newSite, st.newRoom, routing.TagGroup)
	defer unlock()

	newID, err := e.alloc.AllocateLocked(ctx, st.newSite, st.newRoom, routing.TagGroup)
	if err != nil {
		return err
	}
	if err := e.groups.Insert(ctx, st.newSite, &models.Group{
		ID:       newID,
		RoomCode: st.newRoom,
		Name:     st.newName,
	}); err != nil {
		return err
	}
	st.newGroupID = newID
	st.mapping[st.group.ID] = newID
	return nil
}

func (e *Engine) copyMembers(ctx context.Context, st *moveState) error {
	oldPrefix := st.oldRoom + routing.TagMember
	rows, err := e.members.ListByPrefix(ctx, st.oldSite, oldPrefix)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	unlock := e.alloc.Lock(st.newSite, st.newRoom, routing.TagMember)
	defer unlock()

	for _, m := range rows {
		if !hasNumericSuffix(m.ID, oldPrefix) {
			// Cannot place this id in the new ordinal space; copy it
			// untouched rather than corrupt it.
			e.logger.Warn("member id has no parseable ordinal, copied without remap",
				zap.String("member_id", m.ID),
				zap.String("run_id", st.run.ID.String()),
			)
			if err := e.members.Insert(ctx, st.newSite, &m); err != nil {
				return err
			}
			// Identity mapping: participations referencing this id must
			// still follow the move.
			st.mapping[m.ID] = m.ID
			continue
		}
		newID, err := e.alloc.AllocateLocked(ctx, st.newSite, st.newRoom, routing.TagMember)
		if err != nil {
			return err
		}
		if err := e.members.Insert(ctx, st.newSite, &models.Member{ID: newID, FullName: m.FullName}); err != nil {
			return err
		}
		st.mapping[m.ID] = newID
	}
	return nil
}

func (e *Engine) copyProjects(ctx context.Context, st *moveState) error {
	oldPrefix := st.oldRoom + routing.TagProject
	rows, err := e.projects.ListByPrefix(ctx, st.oldSite, oldPrefix)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	unlock := e.alloc.Lock(st.newSite, st.newRoom, routing.TagProject)
	defer unlock()

	for _, p := range rows {
		if !hasNumericSuffix(p.ID, oldPrefix) {
			e.logger.Warn("project id has no parseable ordinal, copied without remap",
				zap.String("project_id", p.ID),
				zap.String("run_id", st.run.ID.String()),
			)
			if err := e.projects.Insert(ctx, st.newSite, &p); err != nil {
				return err
			}
			st.mapping[p.ID] = p.ID
			continue
		}
		newID, err := e.alloc.AllocateLocked(ctx, st.newSite, st.newRoom, routing.TagProject)
		if err != nil {
			return err
		}
		if err := e.projects.Insert(ctx, st.newSite, &models.Project{ID: newID, Title: p.Title}); err != nil {
			return err
		}
		st.mapping[p.ID] = newID
	}
	return nil
}

// copyParticipations unions participation rows across every registered site:
// a row may already be colocated with either endpoint, so no single site
// holds all of them. Rows whose project side moves are reinserted at the
// target site; rows whose project stays put are rewritten in place so the
// link keeps living with its project. Rows touching neither mapped endpoint
// are irrelevant to this move. An unreachable registry site fails the step:
// skipping it would silently strand rows.
func (e *Engine) copyParticipations(ctx context.Context, st *moveState) error {
	memberPrefix := st.oldRoom + routing.TagMember
	projectPrefix := st.oldRoom + routing.TagProject

	registrySites, err := e.store.DistinctSites(ctx)
	if err != nil {
		return err
	}

	seen := make(map[string]bool)
	var collected []collectedRow
	for _, site := range registrySites {
		rows, err := e.parts.ListRelated(ctx, site, memberPrefix, projectPrefix)
		if err != nil {
			return fmt.Errorf("collect participations at %s: %w", site, err)
		}
		for _, row := range rows {
			key := row.MemberID + "|" + row.ProjectID
			if seen[key] {
				continue
			}
			seen[key] = true
			collected = append(collected, collectedRow{row: row, origin: site})
		}
	}

	for _, c := range collected {
		newMember, memberMoved := st.mapping[c.row.MemberID]
		newProject, projectMoved := st.mapping[c.row.ProjectID]
		if !memberMoved && !projectMoved {
			// Every id under the moving partition is in the mapping by
			// now, identity-mapped or not, so an unmapped endpoint is a
			// dangling reference. Rows dangling at the old site go with
			// it; elsewhere they are left alone.
			if c.origin == st.oldSite {
				st.stale = append(st.stale, c)
			}
			continue
		}
		if !memberMoved {
			newMember = c.row.MemberID
		}

		if projectMoved {
			updated := models.Participation{MemberID: newMember, ProjectID: newProject}
			if err := e.parts.Insert(ctx, st.newSite, &updated); err != nil {
				return err
			}
			st.moved = append(st.moved, c)
			continue
		}

		if newMember == c.row.MemberID {
			// Identity-mapped member and a project staying put: the row
			// already reads correctly where it lives.
			continue
		}

		// Member moved, project did not: the row stays with its project's
		// partition and only the member identifier changes.
		updated := models.Participation{MemberID: newMember, ProjectID: c.row.ProjectID}
		if err := e.parts.Rewrite(ctx, c.origin, c.row, updated); err != nil {
			return err
		}
		st.rewritten = append(st.rewritten, collectedRow{row: updated, origin: c.origin})
	}
	return nil
}

func (e *Engine) rewriteGroup(ctx context.Context, st *moveState) error {
	return e.groups.Update(ctx, st.newSite, &models.Group{
		ID:       st.newGroupID,
		RoomCode: st.newRoom,
		Name:     st.newName,
	})
}

// deleteSource removes the old partition's rows in reverse table order.
// Participation rows are deleted one by one at the site each was found on:
// identity-mapped ids keep the old room prefix, so a prefix sweep here
// would also take rows that legitimately survive the move.
func (e *Engine) deleteSource(ctx context.Context, st *moveState) error {
	memberPrefix := st.oldRoom + routing.TagMember
	projectPrefix := st.oldRoom + routing.TagProject

	for _, c := range append(st.moved, st.stale...) {
		if err := e.parts.Delete(ctx, c.origin, c.row.MemberID, c.row.ProjectID); err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				continue
			}
			return err
		}
	}
	if _, err := e.projects.DeleteByPrefix(ctx, st.oldSite, projectPrefix); err != nil {
		return err
	}
	if _, err := e.members.DeleteByPrefix(ctx, st.oldSite, memberPrefix); err != nil {
		return err
	}
	if err := e.groups.Delete(ctx, st.oldSite, st.group.ID); err != nil {
		return err
	}
	return nil
}

// hasNumericSuffix reports whether id is prefix followed by a positive
// integer ordinal.
func hasNumericSuffix(id, prefix string) bool {
	suffix, ok := strings.CutPrefix(id, prefix)
	if !ok || suffix == "" {
		return false
	}
	n, err := strconv.Atoi(suffix)
	return err == nil && n > 0
}
