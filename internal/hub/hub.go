// Package hub implements the Notification Hub: the push channel that
// delivers asynchronous events (grants, revocations, timeouts,
// cookie-set changes, queue position) to workers over a per-session
// WebSocket.
//
// Grounded on the teacher's internal/hosting/ws.go Client/Hub
// register-unregister-broadcast pattern, collapsed from per-site
// multi-channel pub/sub down to a flat sessionID -> *Client map (the
// broker has exactly one logical "channel" per session, not many
// named channels per site). The delivery contract — best-effort,
// at-most-once, in-order, except access_granted/access_revoked which
// are lossless and close the channel on overflow rather than drop a
// frame — is spec.md §4.C, and is why Client uses a mutex-guarded
// outbox slice instead of the teacher's plain buffered channel + drop
// silently on "default": a channel select can only drop the newest
// frame, never the oldest, and can't distinguish message kinds.
package hub

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hibiki-broker/cookiebroker/internal/debug"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second

	maxMessageSize = 16 * 1024

	// normalOutboxLimit bounds the lossy message queue per client;
	// past this, the oldest undelivered frame is dropped.
	normalOutboxLimit = 16
	// losslessOutboxLimit bounds access_granted/access_revoked
	// queuing; past this the channel is considered unrecoverably
	// stuck and is closed outright rather than dropped.
	losslessOutboxLimit = 64
)

// MessageType is the outbound push-channel vocabulary of spec.md
// §4.C, plus the supplemented cookies_deleted type, broadcast by the
// admin surface's delete-by-key handler after Store.AdminDelete.
type MessageType string

const (
	AccessGranted  MessageType = "access_granted"
	AccessRevoked  MessageType = "access_revoked"
	TimeoutWarning MessageType = "timeout_warning"
	CookiesUpdated MessageType = "cookies_updated"
	CookiesCleared MessageType = "cookies_cleared"
	CookiesDeleted MessageType = "cookies_deleted"
	QueuePosition  MessageType = "queue_position"

	// CookiesPrivateUpdate, CookiesSecureUpdate and CookiesSharedUpdate
	// are the smart-import variants of CookiesUpdated: the admin
	// surface picks one of them based on the import strategy's
	// sharing/security fields, mirroring _get_notification_type in
	// original_source/server_api_extensions.py. Only sent when the
	// smart-import config flag is enabled.
	CookiesPrivateUpdate MessageType = "cookies_private_update"
	CookiesSecureUpdate  MessageType = "cookies_secure_update"
	CookiesSharedUpdate  MessageType = "cookies_shared_update"
)

// lossless reports whether overflow of this message type must close
// the channel rather than drop the oldest queued frame.
func (t MessageType) lossless() bool {
	return t == AccessGranted || t == AccessRevoked
}

// Message is the envelope pushed to a session's WebSocket. Only the
// fields relevant to Type are populated.
type Message struct {
	Type             MessageType `json:"type"`
	AllocatedDomains []string    `json:"allocated_domains,omitempty"`
	Reason           string      `json:"reason,omitempty"`
	Position         int         `json:"position,omitempty"`
	Count            int         `json:"count,omitempty"`
	LoggedIn         bool        `json:"logged_in,omitempty"`
	DeletedCount     int         `json:"deleted_count,omitempty"`
	RemainingCount   int         `json:"remaining_count,omitempty"`
	Timestamp        int64       `json:"timestamp"`
}

func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // non-browser workers don't send Origin
	}
	if strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1") {
		return true
	}
	host := r.Host
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	if strings.Contains(origin, host) {
		return true
	}
	log.Printf("[HUB] rejected origin=%s host=%s", origin, r.Host)
	return false
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

// Client is one session's live push channel.
type Client struct {
	sessionID string
	conn      *websocket.Conn
	hub       *Hub

	mu      sync.Mutex
	outbox  [][]byte
	notify  chan struct{}
	closeCh chan struct{}
	closed  bool
}

func newClient(sessionID string, conn *websocket.Conn, h *Hub) *Client {
	return &Client{
		sessionID: sessionID,
		conn:      conn,
		hub:       h,
		notify:    make(chan struct{}, 1),
		closeCh:   make(chan struct{}),
	}
}

// enqueue applies the delivery policy for msg and wakes the write
// pump. Called with no lock held by the caller.
func (c *Client) enqueue(data []byte, lossless bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if lossless {
		c.outbox = append(c.outbox, data)
		if len(c.outbox) > losslessOutboxLimit {
			c.mu.Unlock()
			debug.Warn("hub", "lossless outbox overflow, closing session=%s", c.sessionID)
			c.forceClose()
			return
		}
	} else {
		if len(c.outbox) >= normalOutboxLimit {
			c.outbox = c.outbox[1:] // drop oldest
		}
		c.outbox = append(c.outbox, data)
	}
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *Client) forceClose() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	close(c.closeCh)
	c.conn.Close()
}

// Hub tracks every session's live push channel. hubMutex is the
// innermost lock in the broker's lock ordering (registryMutex →
// coordinatorMutex → storeMutex → hubMutex) — Hub methods never call
// back into the registry, coordinator, or store while holding mu.
type Hub struct {
	mu           sync.RWMutex
	clients      map[string]*Client
	onDisconnect func(sessionID string)
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

// SetOnDisconnect registers the callback fired once a session's
// channel actually closes (remote close, write failure, or overflow
// of a lossless message). The caller uses this to release access and
// detach the session's channel flag — see spec.md §4.C's re-sync note.
func (h *Hub) SetOnDisconnect(fn func(sessionID string)) {
	h.mu.Lock()
	h.onDisconnect = fn
	h.mu.Unlock()
}

// HandleWebSocket upgrades the request and starts the session's pumps.
// The caller (internal/httpapi) must have already exclusively attached
// the session's channel via the session registry before calling this.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request, sessionID string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	client := newClient(sessionID, conn, h)

	h.mu.Lock()
	if old, exists := h.clients[sessionID]; exists {
		h.mu.Unlock()
		old.forceClose()
		h.mu.Lock()
	}
	h.clients[sessionID] = client
	h.mu.Unlock()

	debug.Log("hub", "client connected session=%s", sessionID)
	go client.writePump()
	go client.readPump()
	return nil
}

func (h *Hub) remove(sessionID string, c *Client) {
	h.mu.Lock()
	if cur, ok := h.clients[sessionID]; ok && cur == c {
		delete(h.clients, sessionID)
	}
	h.mu.Unlock()

	h.mu.RLock()
	cb := h.onDisconnect
	h.mu.RUnlock()
	if cb != nil {
		cb(sessionID)
	}
}

// Send pushes msg to sessionID's channel, if one is attached. Returns
// false if no channel is currently attached.
func (h *Hub) Send(sessionID string, msg Message) bool {
	h.mu.RLock()
	c, ok := h.clients[sessionID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	msg.Timestamp = time.Now().UnixMilli()
	data, err := json.Marshal(msg)
	if err != nil {
		debug.Warn("hub", "failed to marshal message for session=%s: %v", sessionID, err)
		return false
	}
	c.enqueue(data, msg.Type.lossless())
	return true
}

// Broadcast pushes msg to every session in sessionIDs that currently
// has a channel attached.
func (h *Hub) Broadcast(sessionIDs []string, msg Message) {
	msg.Timestamp = time.Now().UnixMilli()
	data, err := json.Marshal(msg)
	if err != nil {
		debug.Warn("hub", "failed to marshal broadcast message: %v", err)
		return
	}
	lossless := msg.Type.lossless()

	h.mu.RLock()
	targets := make([]*Client, 0, len(sessionIDs))
	for _, id := range sessionIDs {
		if c, ok := h.clients[id]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(data, lossless)
	}
}

// BroadcastAll pushes msg to every session with a channel attached —
// used for cookies_updated/cookies_cleared/cookies_deleted, which fan
// out to the whole population rather than one session.
func (h *Hub) BroadcastAll(msg Message) {
	msg.Timestamp = time.Now().UnixMilli()
	data, err := json.Marshal(msg)
	if err != nil {
		debug.Warn("hub", "failed to marshal broadcast message: %v", err)
		return
	}
	lossless := msg.Type.lossless()

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(data, lossless)
	}
}

// Close force-disconnects sessionID's channel, if attached.
func (h *Hub) Close(sessionID string) {
	h.mu.RLock()
	c, ok := h.clients[sessionID]
	h.mu.RUnlock()
	if ok {
		c.forceClose()
	}
}

// Shutdown sends a final access_revoked{reason} to every attached
// session, waits the full deadline for the lossless sends to flush,
// then closes every channel. Used during graceful process shutdown.
func (h *Hub) Shutdown(reason string, deadline time.Duration) {
	h.BroadcastAll(Message{Type: AccessRevoked, Reason: reason})
	time.Sleep(deadline)

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*Client)
	h.mu.Unlock()

	for _, c := range clients {
		c.forceClose()
	}
}

// ClientCount returns the number of currently attached channels.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *Client) readPump() {
	defer c.hub.remove(c.sessionID, c)
	defer c.conn.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				debug.Log("hub", "read error session=%s: %v", c.sessionID, err)
			}
			return
		}
		// Inbound frames carry no protocol meaning for this broker —
		// the channel is push-only — but reading keeps the deadline
		// alive for clients that speak application-level pings.
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.notify:
			for {
				c.mu.Lock()
				if len(c.outbox) == 0 {
					c.mu.Unlock()
					break
				}
				next := c.outbox[0]
				c.outbox = c.outbox[1:]
				c.mu.Unlock()

				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.conn.WriteMessage(websocket.TextMessage, next); err != nil {
					return
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.closeCh:
			return
		}
	}
}
