package types

import (
	"time"

	"github.com/google/uuid"
)

// NewRunID generates a UUIDv7 ratification run identifier.
// Time-ordered IDs keep ratification_runs rows clustered by start time.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewRunID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewSnapshotID generates a UUIDv7 snapshot identifier.
func NewSnapshotID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// ParseRunID validates a run identifier.
// Rejects malformed UUIDs to prevent invalid IDs from entering the store.
func ParseRunID(s string) (string, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", err
	}
	return s, nil
}

// RunIDTime extracts the timestamp embedded in a UUIDv7 ID.
// Returns zero time for invalid UUIDs; caller should check IsZero().
func RunIDTime(id string) time.Time {
	u, err := uuid.Parse(id)
	if err != nil {
		return time.Time{}
	}
	sec, nsec := u.Time().UnixTime()
	return time.Unix(sec, nsec)
}
