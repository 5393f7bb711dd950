package player

import (
	"github.com/godbus/dbus/v5"
)

// DBusClient is the narrow D-Bus surface the poll source needs.
// Abstracted so tests can mock the bus.
//
//go:generate mockgen -destination=mocks/dbus_client_mock.go -package=mocks github.com/bardplayer/bard/internal/player DBusClient
type DBusClient interface {
	// Close closes the D-Bus connection
	Close() error

	// ListNames returns all names on the bus
	ListNames() ([]string, error)

	// GetProperty retrieves a property from a D-Bus object.
	// player: the bus name (e.g. "org.mpris.MediaPlayer2.mpd")
	// path: the object path (e.g. "/org/mpris/MediaPlayer2")
	// prop: the property name (e.g. "org.mpris.MediaPlayer2.Player.Position")
	GetProperty(player, path, prop string) (dbus.Variant, error)
}

// StdDBusClient is the real implementation using godbus
type StdDBusClient struct {
	conn *dbus.Conn
}

// NewStdDBusClient connects to the session bus
func NewStdDBusClient() (*StdDBusClient, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, err
	}
	return &StdDBusClient{conn: conn}, nil
}

// Close closes the D-Bus connection
func (c *StdDBusClient) Close() error {
	return c.conn.Close()
}

// ListNames returns all names on the bus
func (c *StdDBusClient) ListNames() ([]string, error) {
	var names []string
	err := c.conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names)
	return names, err
}

// GetProperty retrieves a property from a D-Bus object
func (c *StdDBusClient) GetProperty(player, path, prop string) (dbus.Variant, error) {
	obj := c.conn.Object(player, dbus.ObjectPath(path))
	return obj.GetProperty(prop)
}
