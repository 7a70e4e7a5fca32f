package hub

import (
	"encoding/json"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/timezone"
)

// Message types exchanged with subscribers.
const (
	TypeConnected  = "connected"
	TypeAttendance = "attendance"
	TypePing       = "ping"
	TypePong       = "pong"
)

const connectedText = "Subscribed to attendance updates"

// Message is the envelope of every frame sent to a subscriber.
type Message struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// DecisionEvent is the payload of an attendance message.
type DecisionEvent struct {
	ID        int64   `json:"id"`
	UserID    *int64  `json:"user_id"`
	UserName  *string `json:"user_name"`
	Timestamp string  `json:"timestamp"`
	Status    string  `json:"status"`
	DeviceID  *string `json:"device_id"`
}

// NewDecisionEvent converts a stored decision to its wire form.
func NewDecisionEvent(d *database.Decision) DecisionEvent {
	ev := DecisionEvent{
		ID:        d.ID,
		UserID:    d.IdentityID,
		Timestamp: timezone.Format(d.Timestamp),
		Status:    string(d.Outcome),
		DeviceID:  d.DeviceID,
	}
	if d.IdentityID != nil && d.IdentityName != "" {
		name := d.IdentityName
		ev.UserName = &name
	}
	return ev
}

func encode(m Message) []byte {
	data, err := json.Marshal(m)
	if err != nil {
		// Message only carries plain strings and DecisionEvent values.
		panic("hub: encoding message: " + err.Error())
	}
	return data
}

var (
	connectedFrame = encode(Message{Type: TypeConnected, Message: connectedText})
	pongFrame      = encode(Message{Type: TypePong})
)

// EncodeDecision renders the attendance frame for d.
func EncodeDecision(d *database.Decision) []byte {
	return encode(Message{Type: TypeAttendance, Data: NewDecisionEvent(d)})
}

// clientMessage is what subscribers may send.
type clientMessage struct {
	Type string `json:"type"`
}
