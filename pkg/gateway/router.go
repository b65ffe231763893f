package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/illmade-knight/go-devicebridge/pkg/devicemessage"
	"github.com/illmade-knight/go-devicebridge/pkg/session"
	"github.com/rs/zerolog"
)

// Router addresses commands to the device that is reachable on the broker.
type Router struct {
	store    session.Store
	maxDepth int
	logger   zerolog.Logger
}

// NewRouter creates a Router. maxDepth bounds the number of gateway hops and
// should match the codec's depth so every routed message can be encoded.
func NewRouter(store session.Store, maxDepth int, logger zerolog.Logger) (*Router, error) {
	if store == nil {
		return nil, fmt.Errorf("session store cannot be nil")
	}
	if maxDepth <= 0 {
		maxDepth = devicemessage.DefaultMaxDepth
	}
	return &Router{
		store:    store,
		maxDepth: maxDepth,
		logger:   logger.With().Str("component", "GatewayRouter").Logger(),
	}, nil
}

// Route wraps msg in a ChildDeviceMessage for each gateway between the broker
// and its addressed device. A device with no session is returned unchanged.
// Messages that are already wrapped are routed by their outermost device.
func (r *Router) Route(ctx context.Context, msg devicemessage.Message) (devicemessage.Message, error) {
	if msg == nil {
		return nil, fmt.Errorf("cannot route a nil message")
	}
	visited := map[string]struct{}{msg.GetDeviceID(): {}}
	routed := msg
	for hops := 0; ; hops++ {
		target := routed.GetDeviceID()
		sess, err := r.store.Fetch(ctx, target)
		if err != nil {
			if errors.Is(err, session.ErrNotFound) {
				break
			}
			return nil, fmt.Errorf("failed to look up gateway for %s: %w", target, err)
		}
		if _, seen := visited[sess.GatewayID]; seen {
			return nil, fmt.Errorf("%w: %s is reached through %s again", ErrRoutingLoop, target, sess.GatewayID)
		}
		if hops >= r.maxDepth {
			return nil, fmt.Errorf("%w: %s is more than %d gateways away", devicemessage.ErrNestingTooDeep, msg.GetDeviceID(), r.maxDepth)
		}
		visited[sess.GatewayID] = struct{}{}
		routed = &devicemessage.ChildDeviceMessage{
			Header: devicemessage.Header{
				MessageID: msg.GetMessageID(),
				DeviceID:  sess.GatewayID,
			},
			ChildDeviceID:      target,
			ChildDeviceMessage: routed,
		}
	}

	if routed != msg {
		r.logger.Debug().
			Str("device_id", msg.GetDeviceID()).
			Str("gateway_id", routed.GetDeviceID()).
			Str("message_id", msg.GetMessageID()).
			Msg("Routed command through gateway.")
	}
	return routed, nil
}
