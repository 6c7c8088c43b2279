// Package testhelpers provides an in-memory multi-site cluster implementing
// the repository and registry interfaces, so routing, migration and service
// behavior can be tested without running database engines.
package testhelpers

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/labmesh-io/labmesh-engine/pkg/apperrors"
	"github.com/labmesh-io/labmesh-engine/pkg/models"
	"github.com/labmesh-io/labmesh-engine/pkg/sites"
)

// SiteData is the in-memory contents of one site.
type SiteData struct {
	Groups   map[string]models.Group
	Members  map[string]models.Member
	Projects map[string]models.Project
	Parts    map[string]models.Participation
}

func newSiteData() *SiteData {
	return &SiteData{
		Groups:   make(map[string]models.Group),
		Members:  make(map[string]models.Member),
		Projects: make(map[string]models.Project),
		Parts:    make(map[string]models.Participation),
	}
}

// PartKey builds the map key for a participation row.
func PartKey(memberID, projectID string) string {
	return memberID + "|" + projectID
}

// Cluster fakes the whole multi-site topology behind the interfaces the
// engine and services consume.
type Cluster struct {
	Data   map[sites.SiteID]*SiteData
	Routes map[string]sites.SiteID

	// FailOn, when set, makes the named operation fail once with a
	// connectivity error. Operation names follow "entity.op" with an
	// optional ".site" suffix, e.g. "member.insert" or
	// "parts.listRelated.siteB".
	FailOn string
}

// NewCluster creates an empty three-site cluster.
func NewCluster() *Cluster {
	return &Cluster{
		Data: map[sites.SiteID]*SiteData{
			sites.SiteA: newSiteData(),
			sites.SiteB: newSiteData(),
			sites.SiteC: newSiteData(),
		},
		Routes: make(map[string]sites.SiteID),
	}
}

// Site returns one site's data.
func (c *Cluster) Site(id sites.SiteID) *SiteData { return c.Data[id] }

func (c *Cluster) fail(op string) error {
	if c.FailOn == op {
		c.FailOn = ""
		return fmt.Errorf("%w: injected failure in %s", apperrors.ErrConnectivity, op)
	}
	return nil
}

// Store is the cluster's routing.Store implementation.
type Store struct{ C *Cluster }

func (s Store) List(ctx context.Context) ([]models.RouteEntry, error) {
	if err := s.C.fail("store.list"); err != nil {
		return nil, err
	}
	var out []models.RouteEntry
	for code, site := range s.C.Routes {
		out = append(out, models.RouteEntry{RoomCode: code, SiteName: string(site)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomCode < out[j].RoomCode })
	return out, nil
}

func (s Store) Lookup(ctx context.Context, roomCode string) (sites.SiteID, error) {
	if err := s.C.fail("store.lookup"); err != nil {
		return "", err
	}
	site, ok := s.C.Routes[roomCode]
	if !ok {
		return "", fmt.Errorf("%w: %q", apperrors.ErrUnknownPartition, roomCode)
	}
	return site, nil
}

func (s Store) DistinctSites(ctx context.Context) ([]sites.SiteID, error) {
	seen := make(map[sites.SiteID]bool)
	var out []sites.SiteID
	for _, site := range sites.DataSites() {
		for _, routed := range s.C.Routes {
			if routed == site && !seen[site] {
				seen[site] = true
				out = append(out, site)
			}
		}
	}
	return out, nil
}

func (s Store) Upsert(ctx context.Context, roomCode string, site sites.SiteID) error {
	s.C.Routes[roomCode] = site
	return nil
}

func (s Store) Remove(ctx context.Context, roomCode string) error {
	delete(s.C.Routes, roomCode)
	return nil
}

// Groups is the cluster's GroupRepository implementation.
type Groups struct{ C *Cluster }

func (r Groups) Get(ctx context.Context, preferred sites.SiteID, groupID string) (*models.Group, error) {
	g, ok := r.C.Site(preferred).Groups[groupID]
	if !ok {
		return nil, fmt.Errorf("%w: group %q", apperrors.ErrNotFound, groupID)
	}
	return &g, nil
}

func (r Groups) GetByRoom(ctx context.Context, site sites.SiteID, roomCode string) (*models.Group, error) {
	for _, g := range r.C.Site(site).Groups {
		if g.RoomCode == roomCode {
			return &g, nil
		}
	}
	return nil, fmt.Errorf("%w: room %q", apperrors.ErrNotFound, roomCode)
}

func (r Groups) ListAt(ctx context.Context, site sites.SiteID) ([]models.Group, error) {
	var out []models.Group
	for _, g := range r.C.Site(site).Groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r Groups) ListAcrossSites(ctx context.Context, exclude ...sites.SiteID) ([]models.Group, error) {
	var out []models.Group
	for _, site := range sites.DataSites() {
		more, _ := r.ListAt(ctx, site)
		out = append(out, more...)
	}
	return out, nil
}

func (r Groups) Insert(ctx context.Context, site sites.SiteID, g *models.Group) error {
	if err := r.C.fail("group.insert"); err != nil {
		return err
	}
	if _, exists := r.C.Site(site).Groups[g.ID]; exists {
		return fmt.Errorf("%w: group %q", apperrors.ErrDuplicateKey, g.ID)
	}
	r.C.Site(site).Groups[g.ID] = *g
	return nil
}

func (r Groups) Update(ctx context.Context, site sites.SiteID, g *models.Group) error {
	if _, ok := r.C.Site(site).Groups[g.ID]; !ok {
		return fmt.Errorf("%w: group %q", apperrors.ErrNotFound, g.ID)
	}
	r.C.Site(site).Groups[g.ID] = *g
	return nil
}

func (r Groups) Delete(ctx context.Context, site sites.SiteID, groupID string) error {
	if _, ok := r.C.Site(site).Groups[groupID]; !ok {
		return fmt.Errorf("%w: group %q", apperrors.ErrNotFound, groupID)
	}
	delete(r.C.Site(site).Groups, groupID)
	return nil
}

// Members is the cluster's MemberRepository implementation.
type Members struct{ C *Cluster }

func (r Members) Get(ctx context.Context, preferred sites.SiteID, id string) (*models.Member, error) {
	m, ok := r.C.Site(preferred).Members[id]
	if !ok {
		return nil, fmt.Errorf("%w: member %q", apperrors.ErrNotFound, id)
	}
	return &m, nil
}

func (r Members) FindAnywhere(ctx context.Context, id string) (*models.Member, error) {
	for _, site := range sites.DataSites() {
		if m, ok := r.C.Site(site).Members[id]; ok {
			return &m, nil
		}
	}
	return nil, fmt.Errorf("%w: member %q", apperrors.ErrNotFound, id)
}

func (r Members) ListByPrefix(ctx context.Context, site sites.SiteID, prefix string) ([]models.Member, error) {
	var out []models.Member
	for _, m := range r.C.Site(site).Members {
		if strings.HasPrefix(m.ID, prefix) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r Members) ListAcrossSites(ctx context.Context, exclude ...sites.SiteID) ([]models.Member, error) {
	var out []models.Member
	for _, site := range sites.DataSites() {
		more, _ := r.ListByPrefix(ctx, site, "")
		out = append(out, more...)
	}
	return out, nil
}

func (r Members) Insert(ctx context.Context, site sites.SiteID, m *models.Member) error {
	if err := r.C.fail("member.insert"); err != nil {
		return err
	}
	if _, exists := r.C.Site(site).Members[m.ID]; exists {
		return fmt.Errorf("%w: member %q", apperrors.ErrDuplicateKey, m.ID)
	}
	r.C.Site(site).Members[m.ID] = *m
	return nil
}

func (r Members) Update(ctx context.Context, site sites.SiteID, m *models.Member) error {
	if _, ok := r.C.Site(site).Members[m.ID]; !ok {
		return fmt.Errorf("%w: member %q", apperrors.ErrNotFound, m.ID)
	}
	r.C.Site(site).Members[m.ID] = *m
	return nil
}

func (r Members) Delete(ctx context.Context, site sites.SiteID, id string) error {
	if _, ok := r.C.Site(site).Members[id]; !ok {
		return fmt.Errorf("%w: member %q", apperrors.ErrNotFound, id)
	}
	delete(r.C.Site(site).Members, id)
	return nil
}

func (r Members) DeleteByPrefix(ctx context.Context, site sites.SiteID, prefix string) (int64, error) {
	var n int64
	for id := range r.C.Site(site).Members {
		if strings.HasPrefix(id, prefix) {
			delete(r.C.Site(site).Members, id)
			n++
		}
	}
	return n, nil
}

// Projects is the cluster's ProjectRepository implementation.
type Projects struct{ C *Cluster }

func (r Projects) Get(ctx context.Context, preferred sites.SiteID, id string) (*models.Project, error) {
	p, ok := r.C.Site(preferred).Projects[id]
	if !ok {
		return nil, fmt.Errorf("%w: project %q", apperrors.ErrNotFound, id)
	}
	return &p, nil
}

func (r Projects) FindAnywhere(ctx context.Context, id string) (*models.Project, error) {
	for _, site := range sites.DataSites() {
		if p, ok := r.C.Site(site).Projects[id]; ok {
			return &p, nil
		}
	}
	return nil, fmt.Errorf("%w: project %q", apperrors.ErrNotFound, id)
}

func (r Projects) ListByPrefix(ctx context.Context, site sites.SiteID, prefix string) ([]models.Project, error) {
	var out []models.Project
	for _, p := range r.C.Site(site).Projects {
		if strings.HasPrefix(p.ID, prefix) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r Projects) ListAcrossSites(ctx context.Context, exclude ...sites.SiteID) ([]models.Project, error) {
	var out []models.Project
	for _, site := range sites.DataSites() {
		more, _ := r.ListByPrefix(ctx, site, "")
		out = append(out, more...)
	}
	return out, nil
}

func (r Projects) Insert(ctx context.Context, site sites.SiteID, p *models.Project) error {
	if err := r.C.fail("project.insert"); err != nil {
		return err
	}
	if _, exists := r.C.Site(site).Projects[p.ID]; exists {
		return fmt.Errorf("%w: project %q", apperrors.ErrDuplicateKey, p.ID)
	}
	r.C.Site(site).Projects[p.ID] = *p
	return nil
}

func (r Projects) Update(ctx context.Context, site sites.SiteID, p *models.Project) error {
	if _, ok := r.C.Site(site).Projects[p.ID]; !ok {
		return fmt.Errorf("%w: project %q", apperrors.ErrNotFound, p.ID)
	}
	r.C.Site(site).Projects[p.ID] = *p
	return nil
}

func (r Projects) Delete(ctx context.Context, site sites.SiteID, id string) error {
	if _, ok := r.C.Site(site).Projects[id]; !ok {
		return fmt.Errorf("%w: project %q", apperrors.ErrNotFound, id)
	}
	delete(r.C.Site(site).Projects, id)
	return nil
}

func (r Projects) DeleteByPrefix(ctx context.Context, site sites.SiteID, prefix string) (int64, error) {
	var n int64
	for id := range r.C.Site(site).Projects {
		if strings.HasPrefix(id, prefix) {
			delete(r.C.Site(site).Projects, id)
			n++
		}
	}
	return n, nil
}

// Parts is the cluster's ParticipationRepository implementation.
type Parts struct{ C *Cluster }

func (r Parts) Get(ctx context.Context, preferred sites.SiteID, memberID, projectID string) (*models.Participation, error) {
	p, ok := r.C.Site(preferred).Parts[PartKey(memberID, projectID)]
	if !ok {
		return nil, fmt.Errorf("%w: participation", apperrors.ErrNotFound)
	}
	return &p, nil
}

func (r Parts) ListByProject(ctx context.Context, site sites.SiteID, projectID string) ([]models.Participation, error) {
	var out []models.Participation
	for _, p := range r.C.Site(site).Parts {
		if p.ProjectID == projectID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MemberID < out[j].MemberID })
	return out, nil
}

func (r Parts) ListByMemberAcrossSites(ctx context.Context, memberID string) ([]models.Participation, error) {
	var out []models.Participation
	for _, site := range sites.DataSites() {
		for _, p := range r.C.Site(site).Parts {
			if p.MemberID == memberID {
				out = append(out, p)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProjectID < out[j].ProjectID })
	return out, nil
}

func (r Parts) ListRelated(ctx context.Context, site sites.SiteID, memberPrefix, projectPrefix string) ([]models.Participation, error) {
	if err := r.C.fail("parts.listRelated." + string(site)); err != nil {
		return nil, err
	}
	var out []models.Participation
	for _, p := range r.C.Site(site).Parts {
		if strings.HasPrefix(p.MemberID, memberPrefix) || strings.HasPrefix(p.ProjectID, projectPrefix) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return PartKey(out[i].MemberID, out[i].ProjectID) < PartKey(out[j].MemberID, out[j].ProjectID)
	})
	return out, nil
}

func (r Parts) Insert(ctx context.Context, site sites.SiteID, p *models.Participation) error {
	key := PartKey(p.MemberID, p.ProjectID)
	if _, exists := r.C.Site(site).Parts[key]; exists {
		return fmt.Errorf("%w: participation", apperrors.ErrDuplicateKey)
	}
	r.C.Site(site).Parts[key] = *p
	return nil
}

func (r Parts) Rewrite(ctx context.Context, site sites.SiteID, old, updated models.Participation) error {
	key := PartKey(old.MemberID, old.ProjectID)
	if _, ok := r.C.Site(site).Parts[key]; !ok {
		return fmt.Errorf("%w: participation", apperrors.ErrNotFound)
	}
	delete(r.C.Site(site).Parts, key)
	r.C.Site(site).Parts[PartKey(updated.MemberID, updated.ProjectID)] = updated
	return nil
}

func (r Parts) Delete(ctx context.Context, site sites.SiteID, memberID, projectID string) error {
	key := PartKey(memberID, projectID)
	if _, ok := r.C.Site(site).Parts[key]; !ok {
		return fmt.Errorf("%w: participation", apperrors.ErrNotFound)
	}
	delete(r.C.Site(site).Parts, key)
	return nil
}

func (r Parts) DeleteByMember(ctx context.Context, site sites.SiteID, memberID string) (int64, error) {
	var n int64
	for key, p := range r.C.Site(site).Parts {
		if p.MemberID == memberID {
			delete(r.C.Site(site).Parts, key)
			n++
		}
	}
	return n, nil
}

func (r Parts) DeleteByProject(ctx context.Context, site sites.SiteID, projectID string) (int64, error) {
	var n int64
	for key, p := range r.C.Site(site).Parts {
		if p.ProjectID == projectID {
			delete(r.C.Site(site).Parts, key)
			n++
		}
	}
	return n, nil
}

// Alloc is a gap-filling allocator over the cluster's in-memory data.
type Alloc struct{ C *Cluster }

func (a Alloc) Lock(site sites.SiteID, roomCode, tag string) func() {
	return func() {}
}

func (a Alloc) Allocate(ctx context.Context, site sites.SiteID, roomCode, tag string) (string, error) {
	return a.AllocateLocked(ctx, site, roomCode, tag)
}

func (a Alloc) AllocateLocked(ctx context.Context, site sites.SiteID, roomCode, tag string) (string, error) {
	prefix := roomCode + tag
	taken := make(map[int]bool)
	note := func(id string) {
		suffix, ok := strings.CutPrefix(id, prefix)
		if !ok {
			return
		}
		if n, err := strconv.Atoi(suffix); err == nil && n > 0 {
			taken[n] = true
		}
	}
	data := a.C.Site(site)
	for id := range data.Groups {
		note(id)
	}
	for id := range data.Members {
		note(id)
	}
	for id := range data.Projects {
		note(id)
	}
	for n := 1; ; n++ {
		if !taken[n] {
			return prefix + strconv.Itoa(n), nil
		}
	}
}
