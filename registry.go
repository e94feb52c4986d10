package rethinkengine

import "github.com/puzpuzpuz/xsync/v3"

// DefaultConn is the name Save, Delete and the query layer use when
// no connection was picked explicitly.
const DefaultConn = "default"

var conns = xsync.NewMapOf[string, Conn]()

// Connect installs c as the default connection, replacing any prior
// one. The replaced connection is not closed; the caller owns it.
func Connect(c Conn) {
	ConnectNamed(DefaultConn, c)
}

// ConnectNamed installs c under the given name.
func ConnectNamed(name string, c Conn) {
	conns.Store(name, c)
}

// GetConn returns the default connection, or ErrNotConnected.
func GetConn() (Conn, error) {
	return GetConnNamed(DefaultConn)
}

// GetConnNamed returns the connection registered under name.
func GetConnNamed(name string) (Conn, error) {
	c, ok := conns.Load(name)
	if !ok {
		return nil, ErrNotConnected
	}
	return c, nil
}

// Disconnect removes and closes the default connection. Removing a
// name that was never connected is a no-op.
func Disconnect() error {
	return DisconnectNamed(DefaultConn)
}

// DisconnectNamed removes and closes the named connection.
func DisconnectNamed(name string) error {
	c, ok := conns.LoadAndDelete(name)
	if !ok {
		return nil
	}
	return c.Close()
}
