// Package gateway keeps track of child devices connected through gateways and
// routes commands to them.
//
// The Tracker consumes child-device-connect and child-device-disconnect
// replies and keeps a session.Store current. The Router reads the same store
// to wrap a command for a child device in one ChildDeviceMessage per gateway
// hop, so the codec encodes it for the gateway the device is actually behind.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/illmade-knight/go-devicebridge/pkg/devicemessage"
	"github.com/illmade-knight/go-devicebridge/pkg/session"
	"github.com/rs/zerolog"
)

var (
	// ErrNoSession is returned by GatewayOf for a device with no gateway session.
	ErrNoSession = session.ErrNotFound
	// ErrRoutingLoop is returned by Route when gateway sessions form a cycle.
	ErrRoutingLoop = errors.New("gateway routing loop")
)

// Tracker maintains child device sessions from gateway replies.
type Tracker struct {
	store  session.Store
	logger zerolog.Logger
	now    func() time.Time
}

// NewTracker creates a Tracker over store.
func NewTracker(store session.Store, logger zerolog.Logger) (*Tracker, error) {
	if store == nil {
		return nil, fmt.Errorf("session store cannot be nil")
	}
	return &Tracker{
		store:  store,
		logger: logger.With().Str("component", "GatewayTracker").Logger(),
		now:    time.Now,
	}, nil
}

// Observe updates sessions from reply. Replies other than child device online
// and offline are ignored. It reports whether reply changed the store.
func (t *Tracker) Observe(ctx context.Context, reply devicemessage.Reply) (bool, error) {
	switch r := reply.(type) {
	case *devicemessage.ChildDeviceOnlineMessage:
		return t.online(ctx, r)
	case *devicemessage.ChildDeviceOfflineMessage:
		return t.offline(ctx, r)
	}
	return false, nil
}

func (t *Tracker) online(ctx context.Context, r *devicemessage.ChildDeviceOnlineMessage) (bool, error) {
	gatewayID := r.GetDeviceID()
	if r.ChildDeviceID == "" || gatewayID == "" || r.ChildDeviceID == gatewayID {
		t.logger.Warn().
			Str("gateway_id", gatewayID).
			Str("child_device_id", r.ChildDeviceID).
			Msg("Ignoring child device connect without a distinct child and gateway.")
		return false, nil
	}

	connectedAt := t.now().UTC()
	if r.Timestamp > 0 {
		connectedAt = time.UnixMilli(r.Timestamp).UTC()
	}
	err := t.store.Set(ctx, session.Session{
		ChildDeviceID: r.ChildDeviceID,
		GatewayID:     gatewayID,
		ConnectedAt:   connectedAt,
	})
	if err != nil {
		return false, fmt.Errorf("failed to open session for %s: %w", r.ChildDeviceID, err)
	}
	t.logger.Info().Str("gateway_id", gatewayID).Str("child_device_id", r.ChildDeviceID).Msg("Child device connected.")
	return true, nil
}

// offline closes the session only if it still belongs to the reporting
// gateway, so a late disconnect from a previous gateway cannot drop a newer session.
func (t *Tracker) offline(ctx context.Context, r *devicemessage.ChildDeviceOfflineMessage) (bool, error) {
	gatewayID := r.GetDeviceID()
	current, err := t.store.Fetch(ctx, r.ChildDeviceID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read session for %s: %w", r.ChildDeviceID, err)
	}
	if current.GatewayID != gatewayID {
		t.logger.Debug().
			Str("gateway_id", gatewayID).
			Str("current_gateway_id", current.GatewayID).
			Str("child_device_id", r.ChildDeviceID).
			Msg("Ignoring disconnect from a gateway that no longer holds the session.")
		return false, nil
	}
	if err := t.store.Delete(ctx, r.ChildDeviceID); err != nil {
		return false, fmt.Errorf("failed to close session for %s: %w", r.ChildDeviceID, err)
	}
	t.logger.Info().Str("gateway_id", gatewayID).Str("child_device_id", r.ChildDeviceID).Msg("Child device disconnected.")
	return true, nil
}

// GatewayOf returns the gateway childDeviceID is connected through.
func (t *Tracker) GatewayOf(ctx context.Context, childDeviceID string) (string, error) {
	sess, err := t.store.Fetch(ctx, childDeviceID)
	if err != nil {
		return "", err
	}
	return sess.GatewayID, nil
}
