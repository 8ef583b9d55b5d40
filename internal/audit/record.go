package audit

import (
	"time"

	"github.com/google/uuid"
)

// DefaultInstance tags records whose producer did not name a source instance.
const DefaultInstance = "DefaultInstance"

// IndexedRecord is the searchable document derived from one RawEvent.
// ItemId, ParentId, Language, User, SitecoreInstance and EventName are stored
// as exact-match fields.
type IndexedRecord struct {
	ID               uuid.UUID   `json:"-"`
	Timestamp        time.Time   `json:"Timestamp"`
	EventName        string      `json:"EventName"`
	Raw              string      `json:"Raw"`
	ItemID           uuid.UUID   `json:"ItemId"`
	ParentID         uuid.UUID   `json:"ParentId"`
	Version          int         `json:"Version"`
	Language         *string     `json:"Language"`
	FieldIDs         []uuid.UUID `json:"FieldIds"`
	ChangedFields    *string     `json:"ChangedFields"`
	User             *string     `json:"User"`
	SitecoreInstance string      `json:"SitecoreInstance"`
}

// ChangedField is one entry of the serialized ChangedFields snapshot.
type ChangedField struct {
	Field uuid.UUID `json:"field"`
	From  *string   `json:"from"`
	To    *string   `json:"to"`
}

// Matches reports whether the record belongs to the given item version and
// language.
func (r *IndexedRecord) Matches(itemID uuid.UUID, language string, version int) bool {
	return r.ItemID == itemID &&
		r.Language != nil && *r.Language == language &&
		r.Version == version
}
