package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/HMasataka/beacon/pkg/geo"
)

// Close codes sent to clients when the hub ends a connection.
const (
	CloseNormalClosure = 1000
	CloseGoingAway     = 1001
	ClosePolicy        = 1008
)

// Conn is the transport-level send capability of a connected client
type Conn interface {
	// Send queues a message for delivery. A nil error means the transport
	// accepted the write, not that the client processed it.
	Send(ctx context.Context, message []byte) error

	// Ping sends a protocol-level liveness probe
	Ping() error

	// Close ends the connection with the given close code
	Close(code int, reason string) error
}

// Location is a client or target position
type Location = geo.Point

// UserType classifies a connected client
type UserType string

const (
	UserTypeGuest    UserType = "guest"
	UserTypeDonor    UserType = "donor"
	UserTypeHospital UserType = "hospital"
	UserTypeAdmin    UserType = "admin"
)

// Valid reports whether t is one of the known user types.
func (t UserType) Valid() bool {
	switch t {
	case UserTypeGuest, UserTypeDonor, UserTypeHospital, UserTypeAdmin:
		return true
	default:
		return false
	}
}

// ParseUserType converts s into a UserType.
func ParseUserType(s string) (UserType, error) {
	t := UserType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown user type %q", s)
	}
	return t, nil
}

// Preferences is the structured filter a client states at registration
type Preferences struct {
	BloodType string `json:"bloodType,omitempty"`
}

// Registration carries the fields a client supplies with CLIENT_REGISTER.
// Unset fields leave the stored value untouched.
type Registration struct {
	UserType    UserType     `json:"userType,omitempty"`
	Location    *Location    `json:"location,omitempty"`
	Preferences *Preferences `json:"preferences,omitempty"`
}

// MessageType implements Payload
func (Registration) MessageType() MessageType { return MessageTypeClientRegister }

// ClientInfo is a snapshot of one registry entry
type ClientInfo struct {
	ID          string       `json:"id"`
	ConnectedAt time.Time    `json:"connectedAt"`
	LastSeenAt  time.Time    `json:"lastSeenAt"`
	UserType    UserType     `json:"userType,omitempty"`
	Location    *Location    `json:"location,omitempty"`
	Preferences *Preferences `json:"preferences,omitempty"`
}

// Merge applies the set fields of r to a copy of c.
func (c ClientInfo) Merge(r Registration) ClientInfo {
	if r.UserType != "" {
		c.UserType = r.UserType
	}
	if r.Location != nil {
		loc := *r.Location
		c.Location = &loc
	}
	if r.Preferences != nil {
		prefs := *r.Preferences
		c.Preferences = &prefs
	}
	return c
}

// Clone returns a copy of c that shares no memory with it.
func (c ClientInfo) Clone() ClientInfo {
	if c.Location != nil {
		loc := *c.Location
		c.Location = &loc
	}
	if c.Preferences != nil {
		prefs := *c.Preferences
		c.Preferences = &prefs
	}
	return c
}

// BloodType returns the preferred blood type, or "" when none was stated.
func (c ClientInfo) BloodType() string {
	if c.Preferences == nil {
		return ""
	}
	return c.Preferences.BloodType
}
