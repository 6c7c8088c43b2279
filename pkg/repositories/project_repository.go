package repositories

import (
	"context"
	"fmt"

	"github.com/labmesh-io/labmesh-engine/pkg/apperrors"
	"github.com/labmesh-io/labmesh-engine/pkg/models"
	"github.com/labmesh-io/labmesh-engine/pkg/sites"
)

// ProjectRepository defines data access for projects.
type ProjectRepository interface {
	Get(ctx context.Context, preferred sites.SiteID, projectID string) (*models.Project, error)

	// FindAnywhere searches every available data site for a project id.
	FindAnywhere(ctx context.Context, projectID string) (*models.Project, error)

	ListByPrefix(ctx context.Context, site sites.SiteID, prefix string) ([]models.Project, error)
	ListAcrossSites(ctx context.Context, exclude ...sites.SiteID) ([]models.Project, error)

	Insert(ctx context.Context, site sites.SiteID, project *models.Project) error
	Update(ctx context.Context, site sites.SiteID, project *models.Project) error
	Delete(ctx context.Context, site sites.SiteID, projectID string) error
	DeleteByPrefix(ctx context.Context, site sites.SiteID, prefix string) (int64, error)
}

type projectRepository struct {
	runner sites.QueryRunner
}

// NewProjectRepository creates a project repository over the routing plane.
func NewProjectRepository(runner sites.QueryRunner) ProjectRepository {
	return &projectRepository{runner: runner}
}

func (r *projectRepository) Get(ctx context.Context, preferred sites.SiteID, projectID string) (*models.Project, error) {
	res, err := r.runner.Query(ctx, preferred,
		"SELECT project_id, title FROM projects WHERE project_id = ?", projectID)
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	if res.RowCount == 0 {
		return nil, fmt.Errorf("%w: project %q", apperrors.ErrNotFound, projectID)
	}
	return scanProject(res.Rows[0]), nil
}

func (r *projectRepository) FindAnywhere(ctx context.Context, projectID string) (*models.Project, error) {
	results := r.runner.FanOut(ctx,
		"SELECT project_id, title FROM projects WHERE project_id = ?", []any{projectID})
	for _, sr := range results {
		if sr.Err != nil || sr.Result.RowCount == 0 {
			continue
		}
		return scanProject(sr.Result.Rows[0]), nil
	}
	return nil, fmt.Errorf("%w: project %q", apperrors.ErrNotFound, projectID)
}

func (r *projectRepository) ListByPrefix(ctx context.Context, site sites.SiteID, prefix string) ([]models.Project, error) {
	res, err := r.runner.QueryAt(ctx, site,
		"SELECT project_id, title FROM projects WHERE project_id LIKE ? ORDER BY project_id", prefix+"%")
	if err != nil {
		return nil, fmt.Errorf("list projects by prefix: %w", err)
	}
	return scanProjects(res.Rows), nil
}

func (r *projectRepository) ListAcrossSites(ctx context.Context, exclude ...sites.SiteID) ([]models.Project, error) {
	results := r.runner.FanOut(ctx,
		"SELECT project_id, title FROM projects ORDER BY project_id", nil, exclude...)

	var projects []models.Project
	for _, sr := range results {
		if sr.Err != nil {
			continue
		}
		projects = append(projects, scanProjects(sr.Result.Rows)...)
	}
	return projects, nil
}

func (r *projectRepository) Insert(ctx context.Context, site sites.SiteID, project *models.Project) error {
	_, err := r.runner.Exec(ctx, site,
		"INSERT INTO projects (project_id, title) VALUES (?, ?)",
		project.ID, project.Title)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (r *projectRepository) Update(ctx context.Context, site sites.SiteID, project *models.Project) error {
	res, err := r.runner.Exec(ctx, site,
		"UPDATE projects SET title = ? WHERE project_id = ?",
		project.Title, project.ID)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: project %q", apperrors.ErrNotFound, project.ID)
	}
	return nil
}

func (r *projectRepository) Delete(ctx context.Context, site sites.SiteID, projectID string) error {
	res, err := r.runner.Exec(ctx, site,
		"DELETE FROM projects WHERE project_id = ?", projectID)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: project %q", apperrors.ErrNotFound, projectID)
	}
	return nil
}

func (r *projectRepository) DeleteByPrefix(ctx context.Context, site sites.SiteID, prefix string) (int64, error) {
	res, err := r.runner.Exec(ctx, site,
		"DELETE FROM projects WHERE project_id LIKE ?", prefix+"%")
	if err != nil {
		return 0, fmt.Errorf("delete projects by prefix: %w", err)
	}
	return res.RowsAffected, nil
}

func scanProject(row map[string]any) *models.Project {
	return &models.Project{
		ID:    sites.StringField(row, "project_id"),
		Title: sites.StringField(row, "title"),
	}
}

func scanProjects(rows []map[string]any) []models.Project {
	out := make([]models.Project, 0, len(rows))
	for _, row := range rows {
		out = append(out, *scanProject(row))
	}
	return out
}
