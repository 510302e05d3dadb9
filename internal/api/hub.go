package api

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/vspi-core/internal/infrastructure/config"
	"github.com/nerrad567/vspi-core/internal/infrastructure/logging"
	"github.com/nerrad567/vspi-core/internal/notify"
	"github.com/nerrad567/vspi-core/internal/spi"
)

// WSChannelAll subscribes a client to every event channel.
const WSChannelAll = "*"

// wsChannels are the channels a client may subscribe to.
var wsChannels = map[string]struct{}{
	notify.ChannelControllerChanged: {},
	notify.ChannelDeviceChanged:     {},
	WSChannelAll:                    {},
}

// wsFilter selects the events a client receives. A client with no channels
// receives nothing; a client with no devices receives every device.
type wsFilter struct {
	channels map[string]struct{}
	devices  map[spi.DeviceID]struct{}
}

func newWSFilter() wsFilter {
	return wsFilter{
		channels: make(map[string]struct{}),
		devices:  make(map[spi.DeviceID]struct{}),
	}
}

func (f wsFilter) matches(channel string, dev spi.DeviceID) bool {
	_, all := f.channels[WSChannelAll]
	_, named := f.channels[channel]
	if !all && !named {
		return false
	}
	if len(f.devices) == 0 {
		return true
	}
	_, ok := f.devices[dev]
	return ok
}

// deviceList returns the device filter in no particular order.
func (f wsFilter) deviceList() []spi.DeviceID {
	out := make([]spi.DeviceID, 0, len(f.devices))
	for id := range f.devices {
		out = append(out, id)
	}
	return out
}

// Hub tracks WebSocket clients and fans controller and device events out
// to the ones whose filter matches.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}

	// snapshot returns the current state of the given devices (all when
	// empty). It is sent with every subscribe reply.
	snapshot func(devices []spi.DeviceID) []DeviceView

	dropped atomic.Uint64
}

// NewHub creates an empty hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
}

// Run blocks until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.shutdown()
		if c.conn != nil {
			c.conn.Close()
		}
	}
}

func (h *Hub) setSnapshot(fn func([]spi.DeviceID) []DeviceView) {
	h.mu.Lock()
	h.snapshot = fn
	h.mu.Unlock()
}

func (h *Hub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "subject", c.subject, "clients", n)
}

// remove forgets c and closes its queue. Removing twice is harmless.
func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		c.shutdown()
		h.logger.Debug("websocket client disconnected", "subject", c.subject, "clients", n)
	}
}

// Broadcast sends ev on channel to every client whose filter matches.
// Slow clients lose the event instead of blocking the caller.
func (h *Hub) Broadcast(channel string, ev spi.Event) {
	data, err := json.Marshal(WSMessage{
		Type:    WSTypeEvent,
		Channel: channel,
		Seq:     ev.Seq,
		Time:    ev.Time.UTC().Format(time.RFC3339Nano),
		Payload: ev,
	})
	if err != nil {
		h.logger.Error("encoding websocket event", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.wants(channel, ev.Device) {
			continue
		}
		if !c.enqueue(data) {
			h.dropped.Add(1)
			h.logger.Warn("websocket client too slow, event dropped",
				"subject", c.subject, "channel", channel, "device", ev.Device, "seq", ev.Seq)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many events were not queued because a client was
// too slow or already gone.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *Hub) stateOf(devices []spi.DeviceID) []DeviceView {
	h.mu.RLock()
	fn := h.snapshot
	h.mu.RUnlock()
	if fn == nil {
		return nil
	}
	return fn(devices)
}
