package server

import (
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"pshare/protocol"
)

// Client is the handle for one live control connection. Writes are
// serialized so a correlated reply is always flushed before any push
// triggered by the same request.
type Client struct {
	conn         net.Conn
	address      string
	controlPort  int
	writeTimeout time.Duration
	log          *logrus.Logger
	mu           sync.Mutex
}

func newClient(conn net.Conn, address string, controlPort int, writeTimeout time.Duration, log *logrus.Logger) *Client {
	return &Client{
		conn:         conn,
		address:      address,
		controlPort:  controlPort,
		writeTimeout: writeTimeout,
		log:          log,
	}
}

// Endpoint returns the (address, controlPort) key this client is
// registered under.
func (c *Client) Endpoint() string {
	return endpointKey(c.address, c.controlPort)
}

// Reply sends a correlated response.
func (c *Client) Reply(id, status string, data interface{}) {
	c.send(protocol.Response{ID: id, Status: status, Data: data})
}

// Push sends a server-initiated message. Delivery is best-effort and
// at-most-once; failures are logged, never retried.
func (c *Client) Push(action string, data interface{}) {
	c.send(protocol.Push{Action: action, Data: data})
}

func (c *Client) send(v interface{}) {
	payload, err := protocol.Encode(v)
	if err != nil {
		c.log.WithError(err).Error("failed to encode outgoing message")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if _, err := c.conn.Write(payload); err != nil {
		c.log.WithError(err).WithField("remote", c.Endpoint()).Warn("write failed")
	}
}

func (c *Client) Close() {
	c.conn.Close()
}

// ClientRegistry maps live (address, controlPort) endpoints to their
// connection handles.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{clients: make(map[string]*Client)}
}

func (r *ClientRegistry) Add(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.Endpoint()] = c
}

func (r *ClientRegistry) Remove(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.clients[c.Endpoint()] == c {
		delete(r.clients, c.Endpoint())
	}
}

func (r *ClientRegistry) Get(address string, controlPort int) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[endpointKey(address, controlPort)]
	return c, ok
}

func (r *ClientRegistry) All() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		all = append(all, c)
	}
	return all
}

func endpointKey(address string, port int) string {
	return net.JoinHostPort(address, strconv.Itoa(port))
}

// PresenceRouter resolves a user identity to a currently-connected
// client handle, or reports offline.
type PresenceRouter struct {
	registry *SessionRegistry
	clients  *ClientRegistry
}

func NewPresenceRouter(registry *SessionRegistry, clients *ClientRegistry) *PresenceRouter {
	return &PresenceRouter{registry: registry, clients: clients}
}

// ResolveOnlineClient reports offline when either the session or the
// live connection behind it is missing. A ghost session whose endpoint
// is no longer connected is therefore never reported online.
func (p *PresenceRouter) ResolveOnlineClient(userID string) (*Client, bool) {
	sess, err := p.registry.LookupByUserID(userID)
	if err != nil {
		return nil, false
	}
	return p.clients.Get(sess.Address, sess.ControlPort)
}
