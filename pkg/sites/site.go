package sites

import (
	"fmt"

	"github.com/labmesh-io/labmesh-engine/pkg/apperrors"
)

// SiteID identifies one physical database site.
type SiteID string

const (
	SiteA SiteID = "siteA"
	SiteB SiteID = "siteB"
	SiteC SiteID = "siteC"

	// SiteGlobal holds only the site_routing table and the migration step
	// log, never partitioned business data. It is excluded from failover
	// candidacy.
	SiteGlobal SiteID = "global"
)

// Dialect identifies the database engine running at a site.
type Dialect string

const (
	DialectPostgres  Dialect = "postgres"
	DialectSQLServer Dialect = "sqlserver"
)

// DataSites returns the business-data sites in failover priority order.
func DataSites() []SiteID {
	return []SiteID{SiteA, SiteB, SiteC}
}

// AllSites returns every site including the global routing site.
func AllSites() []SiteID {
	return []SiteID{SiteA, SiteB, SiteC, SiteGlobal}
}

// ParseSiteID validates a site name read from the routing table.
func ParseSiteID(name string) (SiteID, error) {
	switch SiteID(name) {
	case SiteA, SiteB, SiteC, SiteGlobal:
		return SiteID(name), nil
	}
	return "", fmt.Errorf("%w: %q", apperrors.ErrInvalidSite, name)
}

// ParseDialect validates a dialect name from configuration or the routing table.
func ParseDialect(name string) (Dialect, error) {
	switch Dialect(name) {
	case DialectPostgres, DialectSQLServer:
		return Dialect(name), nil
	}
	return "", fmt.Errorf("unsupported dialect %q", name)
}
