// Package events is the transactional outbox of the register: one durable
// row per entity mutation that must reach the external consumer.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Event records that a specific registration snapshot, addressed by its
// checksum, must be (or was) propagated to the consumer.
type Event struct {
	EventID  uuid.UUID
	ObjectID uuid.UUID

	// UpdatedType is the entity type tag; UpdatedRegistrationChecksum is
	// the content address of the snapshot to deliver.
	UpdatedType                 string
	UpdatedRegistrationChecksum string

	// Created orders events for the same object.
	Created time.Time

	// ReceiptObtained and ReceiptErrorCode are stamped out-of-band once
	// the consumer acknowledges the event. An event with a receipt and a
	// non-nil error code was delivered but rejected, which is distinct
	// from not yet attempted.
	ReceiptObtained  *time.Time
	ReceiptErrorCode *string
}

// Delivered reports whether the consumer has acknowledged the event,
// successfully or not.
func (e *Event) Delivered() bool { return e.ReceiptObtained != nil }

// ListFilter selects outbox rows for a sync run.
type ListFilter struct {
	// PendingOnly restricts to events without a receipt.
	PendingOnly bool
	// Include, when non-empty, restricts to these entity types. Exclude
	// removes types and wins over Include.
	Include []string
	Exclude []string
}

func (f ListFilter) matches(e *Event) bool {
	if f.PendingOnly && e.Delivered() {
		return false
	}
	for _, t := range f.Exclude {
		if e.UpdatedType == t {
			return false
		}
	}
	if len(f.Include) == 0 {
		return true
	}
	for _, t := range f.Include {
		if e.UpdatedType == t {
			return true
		}
	}
	return false
}
