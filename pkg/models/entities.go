package models

import "time"

// Group is a research group. It owns a room code (the partition key) and is
// the unit of re-sharding: moving a group moves every record whose identifier
// carries the group's room code as its prefix.
type Group struct {
	ID       string `json:"id"`        // e.g. "P1N1"
	RoomCode string `json:"room_code"` // e.g. "P1"
	Name     string `json:"name"`
}

// Member is an employee. Group ownership is encoded in the identifier prefix
// (room code), not in a foreign key column.
type Member struct {
	ID       string `json:"id"` // e.g. "P1NV2"
	FullName string `json:"full_name"`
}

// Project belongs to the group whose room code prefixes its identifier.
type Project struct {
	ID    string `json:"id"` // e.g. "P2DA1"
	Title string `json:"title"`
}

// Participation links a member to a project. It is the only record allowed to
// reference across partitions: the member and the project may belong to
// different groups. It resides on the project's site.
type Participation struct {
	MemberID  string `json:"member_id"`
	ProjectID string `json:"project_id"`
}

// SiteStatus is one site's entry in the availability snapshot.
type SiteStatus struct {
	Site        string    `json:"site"`
	Available   bool      `json:"available"`
	LastChecked time.Time `json:"last_checked"`
	Error       string    `json:"error,omitempty"`
}

// RouteEntry is one row of the site_routing table at the global site.
type RouteEntry struct {
	RoomCode string `json:"room_code"`
	SiteName string `json:"site_name"`
	DBType   string `json:"db_type"`
}
