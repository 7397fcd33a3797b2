package domain

import "time"

// MessageType represents the type of an envelope
type MessageType string

const (
	MessageTypeEmergencyAlert   MessageType = "EMERGENCY_ALERT"
	MessageTypeWeatherWarning   MessageType = "WEATHER_WARNING"
	MessageTypeUrgentRequest    MessageType = "URGENT_REQUEST"
	MessageTypeSystemStatus     MessageType = "SYSTEM_STATUS"
	MessageTypeHeartbeat        MessageType = "HEARTBEAT"
	MessageTypeClientRegister   MessageType = "CLIENT_REGISTER"
	MessageTypeClientUnregister MessageType = "CLIENT_UNREGISTER"
	MessageTypeError            MessageType = "ERROR"
)

// Classifier values used when a payload leaves them empty.
const (
	UrgencyCritical = "critical"
	UrgencyHigh     = "high"
	SeveritySevere  = "severe"
)

// System status values.
const (
	StatusConnected  = "connected"
	StatusRegistered = "registered"
)

// Payload is the type-specific body of an envelope. Each message type has
// exactly one payload shape.
type Payload interface {
	MessageType() MessageType
}

// EmergencyAlert is a critical blood request pushed to every client
type EmergencyAlert struct {
	RequestID   string    `json:"requestId,omitempty"`
	BloodType   string    `json:"bloodType,omitempty"`
	Hospital    string    `json:"hospital,omitempty"`
	Location    *Location `json:"location,omitempty"`
	UnitsNeeded int       `json:"unitsNeeded,omitempty"`
	Message     string    `json:"message"`
	Urgency     string    `json:"urgency,omitempty"`
}

func (EmergencyAlert) MessageType() MessageType { return MessageTypeEmergencyAlert }

// WeatherWarning is a severe-weather alert pushed to every client
type WeatherWarning struct {
	Event       string     `json:"event"`
	Description string     `json:"description,omitempty"`
	Region      string     `json:"region,omitempty"`
	Location    *Location  `json:"location,omitempty"`
	Severity    string     `json:"severity,omitempty"`
	ValidUntil  *time.Time `json:"validUntil,omitempty"`
}

func (WeatherWarning) MessageType() MessageType { return MessageTypeWeatherWarning }

// UrgentRequest is a targeted notification for matching donors
type UrgentRequest struct {
	RequestID   string    `json:"requestId,omitempty"`
	BloodType   string    `json:"bloodType,omitempty"`
	Hospital    string    `json:"hospital,omitempty"`
	Location    *Location `json:"location,omitempty"`
	UnitsNeeded int       `json:"unitsNeeded,omitempty"`
	Message     string    `json:"message"`
	Urgency     string    `json:"urgency,omitempty"`
}

func (UrgentRequest) MessageType() MessageType { return MessageTypeUrgentRequest }

// SystemStatus acknowledges connection lifecycle steps
type SystemStatus struct {
	Status   string `json:"status"`
	ClientID string `json:"clientId,omitempty"`
	Message  string `json:"message,omitempty"`
}

func (SystemStatus) MessageType() MessageType { return MessageTypeSystemStatus }

// Heartbeat is an application-level liveness reply
type Heartbeat struct{}

func (Heartbeat) MessageType() MessageType { return MessageTypeHeartbeat }

// Unregister asks the hub to close the sending connection
type Unregister struct{}

func (Unregister) MessageType() MessageType { return MessageTypeClientUnregister }

// ErrorMessage reports a problem with an inbound message back to its sender
type ErrorMessage struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (ErrorMessage) MessageType() MessageType { return MessageTypeError }

// Envelope is the unit of delivery. It is treated as immutable once built;
// Replay returns a re-tagged copy.
type Envelope struct {
	Type      MessageType
	Payload   Payload
	Timestamp time.Time
	Severity  string
	Urgency   string
	IsReplay  bool
}

// NewEnvelope builds an envelope for p stamped with at.
func NewEnvelope(p Payload, at time.Time) Envelope {
	env := Envelope{
		Type:      p.MessageType(),
		Payload:   p,
		Timestamp: at,
	}

	switch v := p.(type) {
	case EmergencyAlert:
		env.Urgency = orDefault(v.Urgency, UrgencyCritical)
	case UrgentRequest:
		env.Urgency = orDefault(v.Urgency, UrgencyHigh)
	case WeatherWarning:
		env.Severity = orDefault(v.Severity, SeveritySevere)
	}

	return env
}

// Replay returns a copy of e flagged as a historical delivery.
func (e Envelope) Replay() Envelope {
	e.IsReplay = true
	return e
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
