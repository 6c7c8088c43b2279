package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/labmesh-io/labmesh-engine/pkg/models"
	"github.com/labmesh-io/labmesh-engine/pkg/sites"
)

type staticSnapshot struct{ snap *sites.Snapshot }

func (s staticSnapshot) Snapshot() *sites.Snapshot { return s.snap }

func TestStatusServiceReport(t *testing.T) {
	now := time.Now()
	src := staticSnapshot{snap: &sites.Snapshot{
		Statuses: map[sites.SiteID]models.SiteStatus{
			sites.SiteA:      {Site: "siteA", Available: true, LastChecked: now},
			sites.SiteB:      {Site: "siteB", Available: false, LastChecked: now, Error: "connection refused"},
			sites.SiteC:      {Site: "siteC", Available: true, LastChecked: now},
			sites.SiteGlobal: {Site: "global", Available: true, LastChecked: now},
		},
		TakenAt: now,
	}}

	report := NewStatusService(src).Report()

	assert.Equal(t, 4, report.TotalSites)
	assert.Equal(t, 3, report.AvailableSites)
	assert.Len(t, report.Sites, 4)
	// Sorted by site name for a stable wire shape.
	assert.Equal(t, "global", report.Sites[0].Site)
	assert.Equal(t, "siteB", report.Sites[2].Site)
}
