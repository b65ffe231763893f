// Package session records which gateway each child device is connected
// through. Sessions are opened by child-device-connect replies and closed by
// child-device-disconnect replies, and are read when routing commands to
// devices that are not directly on the broker.
package session

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned by Fetch when a device has no session.
var ErrNotFound = errors.New("session not found")

// Session is the connection of a child device through a gateway.
type Session struct {
	ChildDeviceID string    `json:"childDeviceId" firestore:"childDeviceId"`
	GatewayID     string    `json:"gatewayId" firestore:"gatewayId"`
	ConnectedAt   time.Time `json:"connectedAt" firestore:"connectedAt"`
}

// Store holds child device sessions keyed by child device id.
type Store interface {
	// Set creates or replaces the session of s.ChildDeviceID.
	Set(ctx context.Context, s Session) error
	// Fetch returns the session of childDeviceID, or an error wrapping ErrNotFound.
	Fetch(ctx context.Context, childDeviceID string) (Session, error)
	// Delete removes the session of childDeviceID. Deleting an absent session is not an error.
	Delete(ctx context.Context, childDeviceID string) error
	io.Closer
}
