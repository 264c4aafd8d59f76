// Package gateway terminates EA-facing websocket connections. Each socket
// speaks MessagePack named-field bodies without a length prefix, since the
// websocket frame already delimits one message from the next; that is the
// transport wire.EncodeBody/DecodeBody target, as opposed to
// wire.EncodeFrame/DecodeFrame's length-prefixed framing for stream
// transports. The gateway never touches routing itself: an inbound frame is
// handed to a Dispatcher, and outbound traffic arrives back through bus
// subscriptions (config/{account_id} for every client, plus
// trade/{master}/{slave} and sync/{master}/{slave} for a slave's own
// memberships), never through a direct call into the gateway. It does read
// persist.Store once per connection, at bind time, to learn those
// memberships.
package gateway

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sankey-copier/relay-server/internal/bus"
	"github.com/sankey-copier/relay-server/internal/persist"
	"github.com/sankey-copier/relay-server/internal/wire"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 1 << 16
	sendBuffer     = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Dispatcher is the router's inbound entry point. The gateway never
// interprets kind/msg itself; it only decodes and forwards.
type Dispatcher interface {
	HandleMessage(ctx context.Context, kind wire.MessageType, msg any)
}

var clientIDCounter uint64

// Client is one connected EA socket.
type Client struct {
	ID        uint64
	Conn      *websocket.Conn
	AccountID string // set once the first identity-bearing frame arrives

	sendCh    chan []byte
	done      chan struct{}
	closeOnce sync.Once

	unsubscribes []func() // from config/{account_id} and, for a slave, every trade/sync topic it's a member of
}

func newClient(conn *websocket.Conn) *Client {
	return &Client{
		ID:     atomic.AddUint64(&clientIDCounter, 1),
		Conn:   conn,
		sendCh: make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}
}

// Send enqueues a payload for delivery. Returns false if the client's buffer
// is full; the message is dropped rather than blocking the caller.
func (c *Client) Send(data []byte) bool {
	select {
	case c.sendCh <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.Conn.Close()
		for _, unsubscribe := range c.unsubscribes {
			unsubscribe()
		}
	})
}

// Gateway upgrades inbound connections, decodes frames to the Dispatcher,
// and relays config pushes addressed to a bound account_id back to the
// socket.
type Gateway struct {
	bus        *bus.Bus
	store      *persist.Store
	dispatcher Dispatcher
	log        *zap.Logger

	mu      sync.RWMutex
	clients map[uint64]*Client
}

// New builds a Gateway. store is consulted once per connection, at bind
// time, to learn which trade groups a slave belongs to.
func New(b *bus.Bus, store *persist.Store, dispatcher Dispatcher, log *zap.Logger) *Gateway {
	return &Gateway{bus: b, store: store, dispatcher: dispatcher, log: log, clients: make(map[uint64]*Client)}
}

// Handler upgrades the request to a websocket and starts the client's read
// and write pumps.
func (g *Gateway) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			g.log.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		c := newClient(conn)
		g.mu.Lock()
		g.clients[c.ID] = c
		g.mu.Unlock()

		ctx := r.Context()
		go g.writePump(c)
		go g.readPump(ctx, c)
	}
}

func (g *Gateway) unregister(c *Client) {
	g.mu.Lock()
	delete(g.clients, c.ID)
	g.mu.Unlock()
	c.close()
}

// bindIdentity subscribes the client to its own config topic the first time
// an identity-bearing frame names an account_id. A slave additionally
// subscribes to trade/{master}/{slave} and sync/{master}/{slave} for every
// trade group it belongs to, so copied signals and position snapshots
// actually reach its socket. Later frames from the same socket are no-ops
// here.
func (g *Gateway) bindIdentity(ctx context.Context, c *Client, accountID string, role wire.Role) {
	if c.AccountID != "" || accountID == "" {
		return
	}
	c.AccountID = accountID

	g.subscribeTopic(c, "config/"+accountID, accountID)

	if role == wire.RoleSlave {
		memberships, err := g.store.GetSettingsForSlave(ctx, accountID)
		if err != nil {
			g.log.Error("load slave memberships to bind topics", zap.String("account_id", accountID), zap.Error(err))
		}
		for _, m := range memberships {
			g.subscribeTopic(c, "trade/"+m.TradeGroupID+"/"+accountID, accountID)
			g.subscribeTopic(c, "sync/"+m.TradeGroupID+"/"+accountID, accountID)
		}
	}
}

func (g *Gateway) subscribeTopic(c *Client, topic, accountID string) {
	ch, unsubscribe := g.bus.Subscribe(topic)
	c.unsubscribes = append(c.unsubscribes, unsubscribe)
	go func() {
		for payload := range ch {
			if !c.Send(payload) {
				g.log.Warn("dropped outbound frame, client buffer full", zap.String("account_id", accountID), zap.String("topic", topic))
			}
		}
	}()
}

func (g *Gateway) readPump(ctx context.Context, c *Client) {
	defer g.unregister(c)

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, body, err := c.Conn.ReadMessage()
		if err != nil {
			return
		}

		kind, msg, err := wire.DecodeBody(body)
		if err != nil {
			g.log.Warn("decode inbound frame", zap.Uint64("client", c.ID), zap.Error(err))
			continue
		}

		if id := identityOf(msg); id != "" {
			g.bindIdentity(ctx, c, id, roleOf(msg))
		}

		g.dispatcher.HandleMessage(ctx, kind, msg)
	}
}

func (g *Gateway) writePump(c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case data, ok := <-c.sendCh:
			if !ok {
				return
			}
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// identityOf extracts the account_id an inbound message identifies itself
// with, if any. TradeSignal and PositionSnapshot are excluded deliberately:
// they name a source_account but are only ever sent by a socket that has
// already identified itself via Heartbeat or Register.
func identityOf(msg any) string {
	switch m := msg.(type) {
	case *wire.Heartbeat:
		return m.AccountID
	case *wire.Register:
		return m.AccountID
	case *wire.RequestConfig:
		return m.AccountID
	case *wire.Unregister:
		return m.AccountID
	default:
		return ""
	}
}

// roleOf extracts the role an identity-bearing message announces, so
// bindIdentity knows whether to bind a slave's trade/sync topics.
func roleOf(msg any) wire.Role {
	switch m := msg.(type) {
	case *wire.Heartbeat:
		return m.Role
	case *wire.Register:
		return m.Role
	case *wire.RequestConfig:
		return m.EAType
	case *wire.Unregister:
		return m.Role
	default:
		return ""
	}
}
