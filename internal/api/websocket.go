package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/vspi-core/internal/auth"
	"github.com/nerrad567/vspi-core/internal/infrastructure/config"
	"github.com/nerrad567/vspi-core/internal/multifpgapci"
	"github.com/nerrad567/vspi-core/internal/spi"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	wsSendBufferSize = 256
)

// WSMessage is the envelope of every message on the event stream.
// Seq is the per-device event sequence number of event messages.
type WSMessage struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Channel string `json:"channel,omitempty"`
	Seq     uint64 `json:"seq,omitempty"`
	Time    string `json:"time,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// WSSubscribePayload selects channels and, optionally, devices. Without
// devices every device matches.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
	Devices  []string `json:"devices,omitempty"`
}

// WSSubscribeReply answers a subscribe request with the resulting filter
// and the current state of the matching devices.
type WSSubscribeReply struct {
	Channels []string     `json:"channels"`
	Devices  []string     `json:"devices,omitempty"`
	State    []DeviceView `json:"state"`
}

// wsRequest is an inbound client message.
type wsRequest struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are checked by the CORS middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsClient is one event stream connection.
type wsClient struct {
	hub     *Hub
	conn    *websocket.Conn
	subject string
	role    auth.Role

	mu     sync.Mutex
	filter wsFilter
	send   chan []byte
	closed bool
}

func newWSClient(hub *Hub, conn *websocket.Conn, subject string, role auth.Role) *wsClient {
	return &wsClient{
		hub:     hub,
		conn:    conn,
		subject: subject,
		role:    role,
		filter:  newWSFilter(),
		send:    make(chan []byte, wsSendBufferSize),
	}
}

// handleWebSocket upgrades a request carrying a ticket from
// POST /auth/ws-ticket to an event stream.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ticket := r.URL.Query().Get("ticket")
	if ticket == "" {
		writeUnauthorized(w, "ticket query parameter is required")
		return
	}
	entry, ok := s.tickets.redeem(ticket)
	if !ok {
		writeUnauthorized(w, "invalid or expired ticket")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := newWSClient(s.hub, conn, entry.subject, entry.role)
	s.hub.add(client)
	s.logger.Info("websocket client authenticated", "subject", entry.subject, "role", entry.role)

	go client.writeLoop(s.wsCfg)
	go client.readLoop(s.wsCfg)
}

// wants reports whether the client's filter matches.
func (c *wsClient) wants(channel string, dev spi.DeviceID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filter.matches(channel, dev)
}

// enqueue queues data without blocking. It reports false when the queue
// is full or closed.
func (c *wsClient) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// shutdown closes the queue so writeLoop exits.
func (c *wsClient) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *wsClient) readLoop(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	deadline := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(deadline)) }

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	_ = extend()
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "subject", c.subject, "error", err)
			}
			return
		}
		// Browsers that ignore protocol pings stay alive by talking.
		_ = extend()
		c.dispatch(data)
	}
}

func (c *wsClient) writeLoop(cfg config.WebSocketConfig) {
	ping := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()
	writeWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		var (
			kind int
			data []byte
		)
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			kind, data = websocket.TextMessage, msg
		case <-ping.C:
			kind = websocket.PingMessage
		}
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(kind, data); err != nil {
			return
		}
	}
}

// wsSelection is a validated subscribe or unsubscribe payload.
type wsSelection struct {
	channels []string
	devices  []spi.DeviceID
}

// dispatch handles one client request.
func (c *wsClient) dispatch(data []byte) {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.fail("", "invalid JSON message")
		return
	}

	switch req.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		sel, err := c.parseSelection(req.Payload)
		if err != nil {
			c.fail(req.ID, err.Error())
			return
		}
		if req.Type == WSTypeSubscribe {
			c.subscribe(req.ID, sel)
		} else {
			c.unsubscribe(req.ID, sel)
		}
	case WSTypePing:
		c.reply(req.ID, WSTypePong, nil)
	default:
		c.fail(req.ID, "unknown message type: "+req.Type)
	}
}

// parseSelection checks the client may read events and validates the
// channel names and device addresses.
func (c *wsClient) parseSelection(raw json.RawMessage) (wsSelection, error) {
	if !auth.HasPermission(c.role, auth.PermCtlRead) {
		return wsSelection{}, fmt.Errorf("role %q cannot read controller events", c.role)
	}
	var p WSSubscribePayload
	if len(raw) == 0 || json.Unmarshal(raw, &p) != nil {
		return wsSelection{}, errors.New(`payload must be {"channels": [...], "devices": [...]}`)
	}

	sel := wsSelection{channels: p.Channels}
	for _, ch := range p.Channels {
		if _, ok := wsChannels[ch]; !ok {
			return wsSelection{}, fmt.Errorf("unknown channel %q", ch)
		}
	}
	for _, text := range p.Devices {
		id, err := multifpgapci.ParseDeviceID(text)
		if err != nil {
			return wsSelection{}, err
		}
		sel.devices = append(sel.devices, id)
	}
	return sel, nil
}

// subscribe widens the filter and replies with the state of the devices
// the filter now covers.
func (c *wsClient) subscribe(id string, sel wsSelection) {
	c.mu.Lock()
	for _, ch := range sel.channels {
		c.filter.channels[ch] = struct{}{}
	}
	for _, dev := range sel.devices {
		c.filter.devices[dev] = struct{}{}
	}
	devices := c.filter.deviceList()
	c.mu.Unlock()

	c.hub.logger.Info("websocket client subscribed",
		"subject", c.subject, "channels", sel.channels, "devices", len(sel.devices))
	c.reply(id, WSTypeResponse, c.summary(devices, true))
}

// unsubscribe drops channels and devices from the filter. Dropping the
// last device makes the filter match every device again.
func (c *wsClient) unsubscribe(id string, sel wsSelection) {
	c.mu.Lock()
	for _, ch := range sel.channels {
		delete(c.filter.channels, ch)
	}
	for _, dev := range sel.devices {
		delete(c.filter.devices, dev)
	}
	devices := c.filter.deviceList()
	c.mu.Unlock()

	c.reply(id, WSTypeResponse, c.summary(devices, false))
}

// summary builds the reply for the current filter, with device state when
// withState is set.
func (c *wsClient) summary(devices []spi.DeviceID, withState bool) WSSubscribeReply {
	c.mu.Lock()
	out := WSSubscribeReply{Channels: make([]string, 0, len(c.filter.channels))}
	for ch := range c.filter.channels {
		out.Channels = append(out.Channels, ch)
	}
	c.mu.Unlock()
	sort.Strings(out.Channels)

	for _, dev := range devices {
		out.Devices = append(out.Devices, dev.String())
	}
	sort.Strings(out.Devices)
	if withState {
		out.State = c.hub.stateOf(devices)
	}
	return out
}

func (c *wsClient) reply(id, kind string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:    kind,
		ID:      id,
		Time:    time.Now().UTC().Format(time.RFC3339Nano),
		Payload: payload,
	})
	if err != nil {
		return
	}
	c.enqueue(data)
}

func (c *wsClient) fail(id, message string) {
	c.reply(id, WSTypeError, map[string]string{"message": message})
}
