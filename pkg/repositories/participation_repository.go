package repositories

import (
	"context"
	"fmt"

	"github.com/labmesh-io/labmesh-engine/pkg/apperrors"
	"github.com/labmesh-io/labmesh-engine/pkg/models"
	"github.com/labmesh-io/labmesh-engine/pkg/sites"
)

// ParticipationRepository defines data access for member-project links.
// Participation rows carry no partition column of their own: both of their
// identifiers embed partition keys, and selection by partition is always the
// prefix-match form over both columns so cross-partition rows are neither
// missed nor over-deleted.
type ParticipationRepository interface {
	Get(ctx context.Context, preferred sites.SiteID, memberID, projectID string) (*models.Participation, error)

	// ListByProject reads all rows for one project at exactly site.
	ListByProject(ctx context.Context, site sites.SiteID, projectID string) ([]models.Participation, error)

	// ListByMemberAcrossSites fans out a member's participations over every
	// available data site: the member's projects may be partitioned
	// anywhere.
	ListByMemberAcrossSites(ctx context.Context, memberID string) ([]models.Participation, error)

	// ListRelated reads, at exactly site, every row touching a partition:
	// member id under memberPrefix or project id under projectPrefix.
	ListRelated(ctx context.Context, site sites.SiteID, memberPrefix, projectPrefix string) ([]models.Participation, error)

	Insert(ctx context.Context, site sites.SiteID, p *models.Participation) error

	// Rewrite replaces a row's identifiers in place at exactly site. Used
	// when a migration remaps one endpoint of a row that stays put.
	Rewrite(ctx context.Context, site sites.SiteID, old, updated models.Participation) error

	Delete(ctx context.Context, site sites.SiteID, memberID, projectID string) error

	// DeleteByMember removes every row for one member at exactly site.
	DeleteByMember(ctx context.Context, site sites.SiteID, memberID string) (int64, error)

	// DeleteByProject removes every row for one project at exactly site.
	DeleteByProject(ctx context.Context, site sites.SiteID, projectID string) (int64, error)
}

type participationRepository struct {
	runner sites.QueryRunner
}

// NewParticipationRepository creates a participation repository over the
// routing plane.
func NewParticipationRepository(runner sites.QueryRunner) ParticipationRepository {
	return &participationRepository{runner: runner}
}

func (r *participationRepository) Get(ctx context.Context, preferred sites.SiteID, memberID, projectID string) (*models.Participation, error) {
	res, err := r.runner.Query(ctx, preferred,
		"SELECT member_id, project_id FROM participations WHERE member_id = ? AND project_id = ?",
		memberID, projectID)
	if err != nil {
		return nil, fmt.Errorf("get participation: %w", err)
	}
	if res.RowCount == 0 {
		return nil, fmt.Errorf("%w: participation %s/%s", apperrors.ErrNotFound, memberID, projectID)
	}
	return scanParticipation(res.Rows[0]), nil
}

func (r *participationRepository) ListByProject(ctx context.Context, site sites.SiteID, projectID string) ([]models.Participation, error) {
	res, err := r.runner.QueryAt(ctx, site,
		"SELECT member_id, project_id FROM participations WHERE project_id = ? ORDER BY member_id", projectID)
	if err != nil {
		return nil, fmt.Errorf("list participations by project: %w", err)
	}
	return scanParticipations(res.Rows), nil
}

func (r *participationRepository) ListByMemberAcrossSites(ctx context.Context, memberID string) ([]models.Participation, error) {
	results := r.runner.FanOut(ctx,
		"SELECT member_id, project_id FROM participations WHERE member_id = ? ORDER BY project_id",
		[]any{memberID})

	var out []models.Participation
	for _, sr := range results {
		if sr.Err != nil {
			continue
		}
		out = append(out, scanParticipations(sr.Result.Rows)...)
	}
	return out, nil
}

func (r *participationRepository) ListRelated(ctx context.Context, site sites.SiteID, memberPrefix, projectPrefix string) ([]models.Participation, error) {
	res, err := r.runner.QueryAt(ctx, site,
		"SELECT member_id, project_id FROM participations WHERE member_id LIKE ? OR project_id LIKE ?",
		memberPrefix+"%", projectPrefix+"%")
	if err != nil {
		return nil, fmt.Errorf("list related participations: %w", err)
	}
	return scanParticipations(res.Rows), nil
}

func (r *participationRepository) Insert(ctx context.Context, site sites.SiteID, p *models.Participation) error {
	_, err := r.runner.Exec(ctx, site,
		"INSERT INTO participations (member_id, project_id) VALUES (?, ?)",
		p.MemberID, p.ProjectID)
	if err != nil {
		return fmt.Errorf("insert participation: %w", err)
	}
	return nil
}

func (r *participationRepository) Rewrite(ctx context.Context, site sites.SiteID, old, updated models.Participation) error {
	res, err := r.runner.Exec(ctx, site,
		"UPDATE participations SET member_id = ?, project_id = ? WHERE member_id = ? AND project_id = ?",
		updated.MemberID, updated.ProjectID, old.MemberID, old.ProjectID)
	if err != nil {
		return fmt.Errorf("rewrite participation: %w", err)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: participation %s/%s", apperrors.ErrNotFound, old.MemberID, old.ProjectID)
	}
	return nil
}

func (r *participationRepository) Delete(ctx context.Context, site sites.SiteID, memberID, projectID string) error {
	res, err := r.runner.Exec(ctx, site,
		"DELETE FROM participations WHERE member_id = ? AND project_id = ?",
		memberID, projectID)
	if err != nil {
		return fmt.Errorf("delete participation: %w", err)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: participation %s/%s", apperrors.ErrNotFound, memberID, projectID)
	}
	return nil
}

func (r *participationRepository) DeleteByMember(ctx context.Context, site sites.SiteID, memberID string) (int64, error) {
	res, err := r.runner.Exec(ctx, site,
		"DELETE FROM participations WHERE member_id = ?", memberID)
	if err != nil {
		return 0, fmt.Errorf("delete participations by member: %w", err)
	}
	return res.RowsAffected, nil
}

func (r *participationRepository) DeleteByProject(ctx context.Context, site sites.SiteID, projectID string) (int64, error) {
	res, err := r.runner.Exec(ctx, site,
		"DELETE FROM participations WHERE project_id = ?", projectID)
	if err != nil {
		return 0, fmt.Errorf("delete participations by project: %w", err)
	}
	return res.RowsAffected, nil
}

func scanParticipation(row map[string]any) *models.Participation {
	return &models.Participation{
		MemberID:  sites.StringField(row, "member_id"),
		ProjectID: sites.StringField(row, "project_id"),
	}
}

func scanParticipations(rows []map[string]any) []models.Participation {
	out := make([]models.Participation, 0, len(rows))
	for _, row := range rows {
		out = append(out, *scanParticipation(row))
	}
	return out
}
