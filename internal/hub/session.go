package hub

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/delivery-events/internal/protocol"
)

// session wraps a websocket connection with a write mutex; gorilla allows
// only one concurrent writer per connection.
type session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *session) send(event string, payload any) error {
	b, err := protocol.Marshal(event, payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, b)
}

func (s *session) close() { _ = s.conn.Close() }

// driverSession is one connected driver. id is empty until registration.
type driverSession struct {
	session
	id string
}

// customerSession is one connected customer app; it may track several orders
// at once.
type customerSession struct {
	session
	orders map[string]bool
}

func newCustomerSession(conn *websocket.Conn) *customerSession {
	return &customerSession{session: session{conn: conn}, orders: make(map[string]bool)}
}
