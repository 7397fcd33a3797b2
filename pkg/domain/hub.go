package domain

import (
	"context"

	"github.com/HMasataka/beacon/pkg/geo"
)

// DefaultRadiusKm applies when a criteria has a location but no radius.
const DefaultRadiusKm = 50.0

// TargetCriteria filters recipients of a targeted send. Unset fields match
// every client.
type TargetCriteria struct {
	BloodType string    `json:"bloodType,omitempty"`
	Location  *Location `json:"location,omitempty"`
	RadiusKm  float64   `json:"radiusKm,omitempty"`
	UserType  UserType  `json:"userType,omitempty"`
}

// Radius returns RadiusKm or DefaultRadiusKm when it is unset.
func (c TargetCriteria) Radius() float64 {
	if c.RadiusKm <= 0 {
		return DefaultRadiusKm
	}
	return c.RadiusKm
}

// Matches reports whether info satisfies every set criterion. A client
// without a stored location never matches a location criterion.
func (c TargetCriteria) Matches(info ClientInfo) bool {
	if c.BloodType != "" && info.BloodType() != c.BloodType {
		return false
	}

	if c.UserType != "" && info.UserType != c.UserType {
		return false
	}

	if c.Location != nil {
		if info.Location == nil {
			return false
		}
		if !geo.Within(*c.Location, *info.Location, c.Radius()) {
			return false
		}
	}

	return true
}

// DeliveryReport summarises one fan-out
type DeliveryReport struct {
	Type      MessageType `json:"type"`
	Matched   int         `json:"matched"`
	Delivered int         `json:"delivered"`
	Failed    int         `json:"failed"`
}

// HubStatus is a point-in-time view of the hub
type HubStatus struct {
	IsRunning          bool `json:"isRunning"`
	ConnectedCount     int  `json:"connectedCount"`
	QueuedMessageCount int  `json:"queuedMessageCount"`
}

// Broadcaster is the programmatic surface other parts of the application use
// to trigger pushes.
type Broadcaster interface {
	// BroadcastEmergency sends an emergency alert to every connected client
	BroadcastEmergency(ctx context.Context, alert EmergencyAlert) (DeliveryReport, error)

	// BroadcastWeatherWarning sends a weather warning to every connected client
	BroadcastWeatherWarning(ctx context.Context, warning WeatherWarning) (DeliveryReport, error)

	// SendTargetedNotifications sends an urgent request to matching clients
	// and returns how many matched
	SendTargetedNotifications(ctx context.Context, criteria TargetCriteria, req UrgentRequest) (int, error)

	// Status returns a status snapshot
	Status() HubStatus

	// ClientInfo returns a snapshot of every connected client
	ClientInfo() []ClientInfo
}
