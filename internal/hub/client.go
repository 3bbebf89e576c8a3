package hub

import (
	"sync"

	"ShopAssist/server/internal/models"
)

// wsConn is the slice of *websocket.Conn the hub needs. Tests substitute a
// recording fake.
type wsConn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Client is one live connection. Writes are serialized with a mutex because
// broadcasts and direct replies can target the same connection concurrently.
type Client struct {
	writeMu sync.Mutex
	conn    wsConn

	stateMu   sync.RWMutex
	principal *models.Principal
}

func NewClient(conn wsConn) *Client {
	return &Client{conn: conn}
}

func (c *Client) Send(event string, data interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(map[string]interface{}{
		"event": event,
		"data":  data,
	})
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Principal returns the identity attached at authenticate time, or nil for
// a connection that never authenticated.
func (c *Client) Principal() *models.Principal {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.principal
}

func (c *Client) SetPrincipal(p models.Principal) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.principal = &p
}
