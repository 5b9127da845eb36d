package webhook

import (
	"encoding/json"
	"time"

	"github.com/gofrs/uuid"
)

// Event is one recorded gateway notification. The (Gateway, EventID)
// pair is the primary key, so a redelivery cannot be applied twice.
// Orphan events, ones that match no local payment, are stored with nil
// links and the full payload for later investigation.
type Event struct {
	Gateway    string          `json:"gateway"`
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OrderID    *uuid.UUID      `json:"order_id,omitempty"`
	PaymentID  *uuid.UUID      `json:"payment_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
}
