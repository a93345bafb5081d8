package pipeline

import (
	"time"

	"github.com/google/uuid"

	"github.com/ghisgit/media-organizer/internal/identify"
)

// Priority distinguishes descriptors found during an initial directory
// scan from those reported live by the watcher, per spec.md §3/§4.1.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityLow
)

// Origin records which admission path produced a descriptor.
type Origin string

const (
	OriginWatch Origin = "watch"
	OriginScan  Origin = "scan"
)

// Descriptor is the unit of work that travels through the raw, stable, and
// fingerprinted queues. Exactly one exists per in-flight path at any time
// (enforced by the Pending Registry at admission).
type Descriptor struct {
	// ID uniquely identifies this run of a path through the pipeline, for
	// correlating log lines and stats across the raw/stable/fingerprinted
	// stages. It is not persisted anywhere; the ledger still dedups on
	// canonical path, not on ID.
	ID             string
	Path           string
	Size           int64
	FirstDetected  time.Time
	Priority       Priority
	Origin         Origin
	Digest         string
	DigestUsed     bool
	Identification *identify.ProvisionalIdent
}

// newDescriptorID generates a fresh run identifier for a newly admitted
// Descriptor.
func newDescriptorID() string {
	return uuid.New().String()
}
