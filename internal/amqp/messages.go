package amqp

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"condominio/internal/core"
)

// LedgerPostedMessage announces that a reference's entries were posted or
// reversed. Consumers fetch the full entries from the database; the message
// carries only the key and aggregates.
type LedgerPostedMessage struct {
	RefType    core.ReferenceType `json:"reference_type"`
	RefID      uuid.UUID          `json:"reference_id"`
	BuildingID int64              `json:"building_id"`
	EntryCount int                `json:"entry_count"`
	TotalCents int64              `json:"total_cents"`
	Reversed   bool               `json:"reversed,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
}

func NewLedgerPostedMessage(refType core.ReferenceType, refID uuid.UUID, buildingID int64, entries []core.LedgerEntry) *LedgerPostedMessage {
	msg := &LedgerPostedMessage{
		RefType:    refType,
		RefID:      refID,
		BuildingID: buildingID,
		EntryCount: len(entries),
		Timestamp:  time.Now(),
	}
	for _, e := range entries {
		msg.TotalCents += e.Amount
	}
	return msg
}

func (m *LedgerPostedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func LedgerPostedMessageFromJSON(data []byte) (*LedgerPostedMessage, error) {
	var msg LedgerPostedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
