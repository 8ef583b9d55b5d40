package audit

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartitionName(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want string
	}{
		{"mid month", time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC), "glitteraudit-2024.03"},
		{"december", time.Date(2023, time.December, 31, 23, 59, 59, 0, time.UTC), "glitteraudit-2023.12"},
		// 01:00 on Feb 1st in UTC+2 is still January in UTC.
		{"local offset", time.Date(2024, time.February, 1, 1, 0, 0, 0, time.FixedZone("EET", 2*3600)), "glitteraudit-2024.01"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PartitionName("glitteraudit", tt.now))
		})
	}
	assert.Equal(t, "glitteraudit-*", PartitionPattern("glitteraudit"))
}

func TestRawEventDecodesWebhookPayload(t *testing.T) {
	payload := `{
		"EventName": "item:saved",
		"Item": {"Id": "8f2c7a4e-1b6d-4c1e-9a0b-3d5e6f7a8b9c", "Version": 3, "ParentId": "00000000-0000-0000-0000-000000000001", "Language": "en"},
		"Changes": {"FieldChanges": [
			{"FieldId": "badd9cf9-53e0-4d0c-bcc0-2d784c282f6a", "OriginalValue": "sitecore\\admin", "Value": "sitecore\\jdoe"},
			{"FieldId": "a4f985d9-98b3-4b52-aaaf-4344f6e747c6", "OriginalValue": null, "Value": "new title"}
		]}
	}`

	var ev RawEvent
	require.NoError(t, json.Unmarshal([]byte(payload), &ev))

	assert.Equal(t, "item:saved", ev.EventName)
	require.NotNil(t, ev.Item)
	assert.Equal(t, uuid.MustParse("8f2c7a4e-1b6d-4c1e-9a0b-3d5e6f7a8b9c"), ev.Item.ID)
	assert.Equal(t, 3, ev.Item.Version)
	assert.Equal(t, "en", ev.Item.Language)

	changes := ev.FieldChanges()
	require.Len(t, changes, 2)
	assert.Equal(t, `sitecore\jdoe`, *changes[0].Value)
	assert.Nil(t, changes[1].OriginalValue)
}

func TestFieldChangesWithoutChanges(t *testing.T) {
	var nilEvent *RawEvent
	assert.Nil(t, nilEvent.FieldChanges())
	assert.Nil(t, (&RawEvent{EventName: "item:deleted"}).FieldChanges())
}

func TestIndexedRecordMatches(t *testing.T) {
	id := uuid.New()
	en := "en"
	rec := IndexedRecord{ItemID: id, Language: &en, Version: 2}

	assert.True(t, rec.Matches(id, "en", 2))
	assert.False(t, rec.Matches(id, "en", 1))
	assert.False(t, rec.Matches(id, "fr", 2))
	assert.False(t, rec.Matches(uuid.New(), "en", 2))

	rec.Language = nil
	assert.False(t, rec.Matches(id, "", 2))
}
