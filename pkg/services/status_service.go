package services

import (
	"sort"

	"github.com/labmesh-io/labmesh-engine/pkg/models"
	"github.com/labmesh-io/labmesh-engine/pkg/sites"
)

// HealthReport is the availability summary exposed over HTTP.
type HealthReport struct {
	TotalSites     int                 `json:"totalSites"`
	AvailableSites int                 `json:"availableSites"`
	Sites          []models.SiteStatus `json:"sites"`
}

// StatusService reports site availability from the monitor's snapshot.
type StatusService interface {
	Report() HealthReport
}

type statusService struct {
	health sites.SnapshotSource
}

// NewStatusService creates the status service.
func NewStatusService(health sites.SnapshotSource) StatusService {
	return &statusService{health: health}
}

func (s *statusService) Report() HealthReport {
	snap := s.health.Snapshot()

	statuses := make([]models.SiteStatus, 0, len(snap.Statuses))
	for _, status := range snap.Statuses {
		statuses = append(statuses, status)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Site < statuses[j].Site })

	report := HealthReport{TotalSites: len(statuses), Sites: statuses}
	for _, status := range statuses {
		if status.Available {
			report.AvailableSites++
		}
	}
	return report
}
