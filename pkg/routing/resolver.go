// Package routing maps entity identifiers to the sites that own them.
//
// Each identifier embeds its partition key (the "room code") as a prefix, so
// routing never needs a per-entity lookup table: extract the prefix, look it
// up in the registry at the global site, done.
package routing

import (
	"context"
	"fmt"
	"regexp"

	"github.com/labmesh-io/labmesh-engine/pkg/apperrors"
	"github.com/labmesh-io/labmesh-engine/pkg/sites"
)

// roomCodePattern matches the partition-key prefix of an identifier: one or
// more letters followed by digits at the start of the string. "P1NV2" yields
// "P1" because the match is greedy on the leading digits only.
var roomCodePattern = regexp.MustCompile(`^[A-Za-z]+[0-9]+`)

// RoomCode extracts the partition key embedded in an identifier.
func RoomCode(identifier string) (string, error) {
	code := roomCodePattern.FindString(identifier)
	if code == "" || code == identifier {
		// No prefix, or the identifier is nothing but a prefix (missing
		// entity tag and ordinal).
		return "", fmt.Errorf("%w: %q", apperrors.ErrInvalidIdentifier, identifier)
	}
	return code, nil
}

var fullRoomCodePattern = regexp.MustCompile(`^[A-Za-z]+[0-9]+$`)

// ValidateRoomCode rejects strings that cannot serve as a partition key.
// Anything that is not letters followed by digits would break identifier
// parsing for every entity created under it.
func ValidateRoomCode(code string) error {
	if !fullRoomCodePattern.MatchString(code) {
		return fmt.Errorf("%w: room code %q", apperrors.ErrInvalidIdentifier, code)
	}
	return nil
}

// Resolver resolves identifiers to sites through the registry.
type Resolver struct {
	store Store
}

// NewResolver creates a Resolver over the given registry store.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// ResolveSite derives the partition key from identifier and looks it up in
// the registry.
func (r *Resolver) ResolveSite(ctx context.Context, identifier string) (sites.SiteID, error) {
	code, err := RoomCode(identifier)
	if err != nil {
		return "", err
	}
	return r.store.Lookup(ctx, code)
}

// ResolveRoom looks a bare partition key up in the registry.
func (r *Resolver) ResolveRoom(ctx context.Context, roomCode string) (sites.SiteID, error) {
	return r.store.Lookup(ctx, roomCode)
}
