// Package audit defines the change-audit data model: the webhook payload sent
// by the content-management platform, the denormalized record persisted for
// each payload, and the monthly partition naming rule.
package audit

import "github.com/google/uuid"

// RawEvent is the webhook body as received. Item and Changes are optional;
// publish and delete events carry no field changes.
type RawEvent struct {
	EventName string          `json:"EventName"`
	Item      *ItemDescriptor `json:"Item,omitempty"`
	Changes   *ItemChanges    `json:"Changes,omitempty"`
}

// ItemDescriptor identifies the content item version the event refers to.
type ItemDescriptor struct {
	ID       uuid.UUID `json:"Id"`
	Version  int       `json:"Version"`
	ParentID uuid.UUID `json:"ParentId"`
	Language string    `json:"Language"`
}

// ItemChanges holds the field-level edits of an item:saved event.
type ItemChanges struct {
	FieldChanges []FieldChange `json:"FieldChanges"`
}

// FieldChange is a single field edit. Either value may be null.
type FieldChange struct {
	FieldID       uuid.UUID `json:"FieldId"`
	OriginalValue *string   `json:"OriginalValue"`
	Value         *string   `json:"Value"`
}

// FieldChanges returns the event's changes, or nil when it carries none.
func (e *RawEvent) FieldChanges() []FieldChange {
	if e == nil || e.Changes == nil {
		return nil
	}
	return e.Changes.FieldChanges
}
