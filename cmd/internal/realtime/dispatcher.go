package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	v1 "pulse/shared/contracts/realtime/v1"
)

// Dispatcher routes server-originated envelopes to live connections.
//
// It owns the connection-id -> Client map and keeps it aligned with the
// injected Registry. Dispatch is fire-and-forget: enqueue never blocks, and a
// full send queue drops the envelope rather than stalling the caller.
type Dispatcher struct {
	log      *slog.Logger
	registry *Registry

	mu      sync.RWMutex
	clients map[string]*Client
}

// NewDispatcher constructs a dispatcher over the given registry.
func NewDispatcher(log *slog.Logger, registry *Registry) *Dispatcher {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Dispatcher{
		log:      log,
		registry: registry,
		clients:  make(map[string]*Client),
	}
}

// Registry exposes the underlying connection index (read-side API surface).
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Attach registers a client as the principal's live connection. If the
// principal already had one, the displaced client is returned so the caller
// can tear down that session.
func (d *Dispatcher) Attach(client *Client) (displaced *Client) {
	if client == nil {
		return nil
	}

	old, wasDisplaced := d.registry.Register(client.PrincipalID, client.ConnectionID)

	d.mu.Lock()
	if wasDisplaced {
		displaced = d.clients[old]
		delete(d.clients, old)
	}
	d.clients[client.ConnectionID] = client
	d.mu.Unlock()

	metricConnections.Set(float64(d.registry.Count()))
	return displaced
}

// Detach removes the client's mapping. Stale clients (already displaced by a
// reconnect) are a no-op for the registry and only release their own entry.
func (d *Dispatcher) Detach(client *Client) {
	if client == nil {
		return
	}

	d.registry.Unregister(client.ConnectionID)

	d.mu.Lock()
	if cur, ok := d.clients[client.ConnectionID]; ok && cur == client {
		delete(d.clients, client.ConnectionID)
	}
	d.mu.Unlock()

	metricConnections.Set(float64(d.registry.Count()))
}

// Send dispatches one envelope to the principal's live connection. It reports
// false when the principal is offline or the envelope had to be dropped.
func (d *Dispatcher) Send(principalID, typ string, payload any) bool {
	connID, ok := d.registry.Resolve(principalID)
	if !ok {
		metricDeliveries.WithLabelValues(deliveryOffline).Inc()
		return false
	}

	d.mu.RLock()
	client := d.clients[connID]
	d.mu.RUnlock()

	if client == nil {
		metricDeliveries.WithLabelValues(deliveryOffline).Inc()
		return false
	}
	return d.enqueue(client, typ, payload)
}

// SendMany dispatches the same envelope to each listed principal and returns
// how many were actually enqueued. Offline principals are skipped.
func (d *Dispatcher) SendMany(principalIDs []string, typ string, payload any) int {
	delivered := 0
	for _, id := range principalIDs {
		if d.Send(id, typ, payload) {
			delivered++
		}
	}
	return delivered
}

// Broadcast dispatches the envelope to every connected principal.
func (d *Dispatcher) Broadcast(typ string, payload any) int {
	return d.SendMany(d.registry.ListConnected(), typ, payload)
}

func (d *Dispatcher) enqueue(client *Client, typ string, payload any) bool {
	raw, err := json.Marshal(payload)
	if err != nil {
		d.log.Error("realtime.dispatch.marshal", "type", typ, "err", err)
		metricDeliveries.WithLabelValues(deliveryDropped).Inc()
		return false
	}
	env := v1.New(typ, raw, time.Now().UTC())

	select {
	case <-client.Done():
		metricDeliveries.WithLabelValues(deliveryOffline).Inc()
		return false
	default:
	}

	select {
	case client.Send <- env:
		metricDeliveries.WithLabelValues(deliveryDelivered).Inc()
		return true
	default:
		// Drop rather than block the caller on a slow consumer.
		d.log.Info("realtime.dispatch.drop",
			"type", typ,
			"principal_id", client.PrincipalID,
			"connection_id", client.ConnectionID,
		)
		metricDeliveries.WithLabelValues(deliveryDropped).Inc()
		return false
	}
}
