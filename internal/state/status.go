// Package state persists per-connection health records and applies the
// consecutive-failure state machine that turns raw probe results into
// HEALTHY, DOWN, or UNKNOWN statuses.
package state

import (
	"encoding/json"
	"fmt"
)

// Status is the persisted health classification of a connection.
type Status int

const (
	// StatusUnknown is the initial status of a never-probed connection and
	// the safe fallback whenever the record store cannot be read. It is not
	// equivalent to StatusDown.
	StatusUnknown Status = iota

	// StatusHealthy means the most recent probe succeeded.
	StatusHealthy

	// StatusDown means the failure threshold was reached by consecutive
	// failed probes.
	StatusDown
)

// String returns the wire representation used in persisted records.
func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "HEALTHY"
	case StatusDown:
		return "DOWN"
	default:
		return "UNKNOWN"
	}
}

// ParseStatus converts a wire representation back to a Status.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "HEALTHY":
		return StatusHealthy, nil
	case "DOWN":
		return StatusDown, nil
	case "UNKNOWN":
		return StatusUnknown, nil
	default:
		return StatusUnknown, fmt.Errorf("unknown connection status %q", s)
	}
}

// MarshalJSON encodes the status as its wire string.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a wire string, rejecting unknown values so that
// corrupted records are detected rather than silently misread.
func (s *Status) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	parsed, err := ParseStatus(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Role identifies which configured failover role a connection name holds.
type Role int

const (
	RoleOther Role = iota
	RolePrimary
	RoleFailover
)

// String returns a human-readable role name.
func (r Role) String() string {
	switch r {
	case RolePrimary:
		return "primary"
	case RoleFailover:
		return "failover"
	default:
		return "other"
	}
}

// Roles holds the configured connection names for the three failover roles.
// Classification happens here, once per transition, instead of by scattered
// name comparisons inside the state machine.
type Roles struct {
	Primary  string
	Failover string
	Blocking string
}

// Classify maps a connection name to its configured role. Names matching
// neither probed role are RoleOther and never receive role-specific events.
func (r Roles) Classify(name string) Role {
	switch name {
	case r.Primary:
		return RolePrimary
	case r.Failover:
		return RoleFailover
	default:
		return RoleOther
	}
}
