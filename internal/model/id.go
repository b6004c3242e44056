// Package model holds the persisted record types for networks and runs,
// plus record identifier generation.
package model

import "github.com/oklog/ulid/v2"

// NewID generates a new ULID string for use as a record identifier. Run
// records are keyed by ULID; the numeric run identifier allocated by the
// host manager is stored alongside.
func NewID() string {
	return ulid.Make().String()
}
