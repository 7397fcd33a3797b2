package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/HMasataka/beacon/pkg/domain"
	"github.com/HMasataka/beacon/pkg/errors"
)

// Error codes produced while decoding.
const (
	CodeInvalidMessage  = "INVALID_MESSAGE"
	CodeUnsupportedType = "UNSUPPORTED_TYPE"
)

// frame is the JSON shape of an envelope on the wire
type frame struct {
	Type       domain.MessageType `json:"type"`
	Data       json.RawMessage    `json:"data,omitempty"`
	Timestamp  *time.Time         `json:"timestamp,omitempty"`
	Severity   string             `json:"severity,omitempty"`
	Urgency    string             `json:"urgency,omitempty"`
	IsHistoric bool               `json:"isHistoric,omitempty"`
}

// Codec defines the interface for envelope encoding/decoding
type Codec interface {
	// Encode encodes an envelope to bytes
	Encode(env domain.Envelope) ([]byte, error)

	// Decode decodes bytes into an envelope with a typed payload
	Decode(data []byte) (domain.Envelope, error)
}

// JSONCodec implements Codec using JSON
type JSONCodec struct{}

// NewJSONCodec creates a new JSON codec
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{}
}

// Encode implements the Codec interface
func (c *JSONCodec) Encode(env domain.Envelope) ([]byte, error) {
	var data json.RawMessage
	if env.Payload != nil {
		raw, err := json.Marshal(env.Payload)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInternal, "MARSHAL_ERROR", "failed to marshal payload")
		}
		data = raw
	}

	f := frame{
		Type:       env.Type,
		Data:       data,
		Severity:   env.Severity,
		Urgency:    env.Urgency,
		IsHistoric: env.IsReplay,
	}
	if !env.Timestamp.IsZero() {
		ts := env.Timestamp.UTC()
		f.Timestamp = &ts
	}

	out, err := json.Marshal(f)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "MARSHAL_ERROR", "failed to marshal envelope")
	}
	return out, nil
}

// Decode implements the Codec interface
func (c *JSONCodec) Decode(data []byte) (domain.Envelope, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return domain.Envelope{}, errors.Wrap(err, errors.ErrorTypeProtocol, CodeInvalidMessage, "message is not valid JSON")
	}

	if f.Type == "" {
		return domain.Envelope{}, errors.Wrap(domain.ErrInvalidMessage, errors.ErrorTypeProtocol, CodeInvalidMessage, "message type is required")
	}

	payload, err := decodePayload(f.Type, f.Data)
	if err != nil {
		return domain.Envelope{}, err
	}

	env := domain.Envelope{
		Type:     f.Type,
		Payload:  payload,
		Severity: f.Severity,
		Urgency:  f.Urgency,
		IsReplay: f.IsHistoric,
	}
	if f.Timestamp != nil {
		env.Timestamp = *f.Timestamp
	}

	return env, nil
}

func decodePayload(t domain.MessageType, data json.RawMessage) (domain.Payload, error) {
	switch t {
	case domain.MessageTypeEmergencyAlert:
		return decodeInto[domain.EmergencyAlert](t, data)
	case domain.MessageTypeWeatherWarning:
		return decodeInto[domain.WeatherWarning](t, data)
	case domain.MessageTypeUrgentRequest:
		return decodeInto[domain.UrgentRequest](t, data)
	case domain.MessageTypeSystemStatus:
		return decodeInto[domain.SystemStatus](t, data)
	case domain.MessageTypeHeartbeat:
		return decodeInto[domain.Heartbeat](t, data)
	case domain.MessageTypeClientRegister:
		return decodeInto[domain.Registration](t, data)
	case domain.MessageTypeClientUnregister:
		return decodeInto[domain.Unregister](t, data)
	case domain.MessageTypeError:
		return decodeInto[domain.ErrorMessage](t, data)
	default:
		return nil, errors.Wrap(domain.ErrUnsupportedType, errors.ErrorTypeProtocol, CodeUnsupportedType, "unsupported message type").
			WithDetails(string(t))
	}
}

func decodeInto[P domain.Payload](t domain.MessageType, data json.RawMessage) (domain.Payload, error) {
	var p P
	if len(data) == 0 || string(data) == "null" {
		return p, nil
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeProtocol, CodeInvalidMessage, "invalid data").
			WithDetails(fmt.Sprintf("type %s", t))
	}
	return p, nil
}
