package protocol

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"testing"
	"time"

	"github.com/HMasataka/beacon/pkg/domain"
	"github.com/HMasataka/beacon/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_WireShape(t *testing.T) {
	codec := NewJSONCodec()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	env := domain.NewEnvelope(domain.EmergencyAlert{BloodType: "O-", Message: "need O- now"}, at)

	data, err := codec.Encode(env)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))

	assert.Equal(t, "EMERGENCY_ALERT", wire["type"])
	assert.Equal(t, "2026-01-02T03:04:05Z", wire["timestamp"])
	assert.Equal(t, domain.UrgencyCritical, wire["urgency"])
	assert.NotContains(t, wire, "severity")
	assert.NotContains(t, wire, "isHistoric")

	payload := wire["data"].(map[string]any)
	assert.Equal(t, "O-", payload["bloodType"])
}

func TestEncode_ReplayIsHistoric(t *testing.T) {
	codec := NewJSONCodec()
	env := domain.NewEnvelope(domain.WeatherWarning{Event: "cyclone"}, time.Now()).Replay()

	data, err := codec.Encode(env)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))
	assert.Equal(t, true, wire["isHistoric"])
	assert.Equal(t, domain.SeveritySevere, wire["severity"])
}

func TestDecode_ClientRegister(t *testing.T) {
	codec := NewJSONCodec()
	raw := `{"type":"CLIENT_REGISTER","data":{"userType":"donor","location":{"lat":19.07,"lng":72.87},"preferences":{"bloodType":"O+"}}}`

	env, err := codec.Decode([]byte(raw))
	require.NoError(t, err)

	reg, ok := env.Payload.(domain.Registration)
	require.True(t, ok)
	assert.Equal(t, domain.UserTypeDonor, reg.UserType)
	require.NotNil(t, reg.Location)
	assert.Equal(t, 19.07, reg.Location.Lat)
	assert.Equal(t, "O+", reg.Preferences.BloodType)
}

func TestDecode_HeartbeatWithoutData(t *testing.T) {
	env, err := NewJSONCodec().Decode([]byte(`{"type":"HEARTBEAT"}`))
	require.NoError(t, err)

	assert.Equal(t, domain.MessageTypeHeartbeat, env.Type)
	assert.IsType(t, domain.Heartbeat{}, env.Payload)
}

func TestDecode_Errors(t *testing.T) {
	codec := NewJSONCodec()

	tests := []struct {
		name string
		raw  string
		code string
	}{
		{"not json", `{not json`, CodeInvalidMessage},
		{"missing type", `{"data":{}}`, CodeInvalidMessage},
		{"unknown type", `{"type":"SELF_DESTRUCT"}`, CodeUnsupportedType},
		{"bad data", `{"type":"CLIENT_REGISTER","data":"oops"}`, CodeInvalidMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.Decode([]byte(tt.raw))
			require.Error(t, err)

			var e *errors.Error
			require.True(t, stderrors.As(err, &e))
			assert.Equal(t, tt.code, e.Code)
			assert.Equal(t, errors.ErrorTypeProtocol, e.Type)
		})
	}
}

func TestRoundTrip_PreservesClassifiers(t *testing.T) {
	codec := NewJSONCodec()
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	env := domain.NewEnvelope(domain.UrgentRequest{BloodType: "AB+", Message: "trauma"}, at)

	data, err := codec.Encode(env)
	require.NoError(t, err)

	decoded, err := codec.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, env, decoded)
}

func TestHandlerRegistry(t *testing.T) {
	registry := NewHandlerRegistry()
	registry.Register(domain.MessageTypeHeartbeat, HandlerFunc(func(ctx context.Context, env domain.Envelope) (*domain.Envelope, error) {
		id, _ := ClientIDFromContext(ctx)
		resp := domain.NewEnvelope(domain.SystemStatus{Status: "ok", ClientID: id}, time.Now())
		return &resp, nil
	}))

	ctx := WithClientID(context.Background(), "c1")

	resp, err := registry.Handle(ctx, domain.Envelope{Type: domain.MessageTypeHeartbeat})
	require.NoError(t, err)
	assert.Equal(t, "c1", resp.Payload.(domain.SystemStatus).ClientID)

	_, err = registry.Handle(ctx, domain.Envelope{Type: domain.MessageTypeEmergencyAlert})
	assert.ErrorIs(t, err, domain.ErrUnsupportedType)
}
