package geo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog/log"
)

const (
	geoclueService   = "org.freedesktop.GeoClue2"
	geoclueManager   = "/org/freedesktop/GeoClue2/Manager"
	geoclueClientIfc = "org.freedesktop.GeoClue2.Client"
	geoclueLocIfc    = "org.freedesktop.GeoClue2.Location"

	// GCLUE_ACCURACY_LEVEL_CITY
	geoclueAccuracyCity uint32 = 4
)

// ErrNoFix is returned when Geoclue did not report a position in time.
var ErrNoFix = errors.New("geoclue did not report a location")

// GeoclueLocator asks the Geoclue service on the system bus for the current
// position at city accuracy.
type GeoclueLocator struct {
	desktopID string
	timeout   time.Duration
}

// NewGeoclueLocator creates a Geoclue locator. desktopID must match a
// desktop file or an agent whitelist entry, or Geoclue will refuse access.
func NewGeoclueLocator(desktopID string, timeout time.Duration) *GeoclueLocator {
	if desktopID == "" {
		desktopID = "sunddc"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GeoclueLocator{desktopID: desktopID, timeout: timeout}
}

// Locate implements Locator.
func (g *GeoclueLocator) Locate(ctx context.Context) (*Location, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	s, err := g.open(ctx)
	if err != nil {
		return nil, err
	}
	defer s.close()

	// A cached fix may already be available
	locPath, err := currentLocationPath(s.client)
	for err == nil && locPath == "/" {
		select {
		case <-ctx.Done():
			return nil, ErrNoFix
		case sig, ok := <-s.signals:
			if !ok {
				return nil, ErrNoFix
			}
			if p, ok := updatedPath(sig); ok {
				locPath = p
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("geoclue location: %w", err)
	}
	return s.read(locPath)
}

// Watch keeps a Geoclue client running and calls onMove for every location
// update it reports. It blocks until ctx is done.
func (g *GeoclueLocator) Watch(ctx context.Context, onMove func()) error {
	s, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	log.Debug().Str("client", string(s.path)).Msg("Following Geoclue location updates")
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-s.signals:
			if !ok {
				return fmt.Errorf("geoclue: system bus connection closed")
			}
			if _, ok := updatedPath(sig); ok {
				onMove()
			}
		}
	}
}

// geoclueSession is a started Geoclue client subscribed to LocationUpdated.
type geoclueSession struct {
	conn    *dbus.Conn
	client  dbus.BusObject
	path    dbus.ObjectPath
	signals chan *dbus.Signal
}

func (g *GeoclueLocator) open(ctx context.Context) (*geoclueSession, error) {
	conn, err := dbus.ConnectSystemBus(dbus.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}

	var clientPath dbus.ObjectPath
	manager := conn.Object(geoclueService, geoclueManager)
	if err := manager.CallWithContext(ctx, geoclueService+".Manager.GetClient", 0).Store(&clientPath); err != nil {
		conn.Close()
		return nil, fmt.Errorf("geoclue GetClient: %w", err)
	}

	client := conn.Object(geoclueService, clientPath)
	if err := client.SetProperty(geoclueClientIfc+".DesktopId", dbus.MakeVariant(g.desktopID)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("geoclue set DesktopId: %w", err)
	}
	if err := client.SetProperty(geoclueClientIfc+".RequestedAccuracyLevel", dbus.MakeVariant(geoclueAccuracyCity)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("geoclue set accuracy: %w", err)
	}

	if err := conn.AddMatchSignalContext(ctx,
		dbus.WithMatchObjectPath(clientPath),
		dbus.WithMatchInterface(geoclueClientIfc),
		dbus.WithMatchMember("LocationUpdated"),
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("geoclue subscribe: %w", err)
	}
	signals := make(chan *dbus.Signal, 4)
	conn.Signal(signals)

	if err := client.CallWithContext(ctx, geoclueClientIfc+".Start", 0).Err; err != nil {
		conn.RemoveSignal(signals)
		conn.Close()
		return nil, fmt.Errorf("geoclue Start: %w", err)
	}

	return &geoclueSession{conn: conn, client: client, path: clientPath, signals: signals}, nil
}

func (s *geoclueSession) close() {
	s.client.Call(geoclueClientIfc+".Stop", 0)
	s.conn.RemoveSignal(s.signals)
	s.conn.Close()
}

func (s *geoclueSession) read(locPath dbus.ObjectPath) (*Location, error) {
	location := s.conn.Object(geoclueService, locPath)
	lat, err := location.GetProperty(geoclueLocIfc + ".Latitude")
	if err != nil {
		return nil, fmt.Errorf("geoclue latitude: %w", err)
	}
	lon, err := location.GetProperty(geoclueLocIfc + ".Longitude")
	if err != nil {
		return nil, fmt.Errorf("geoclue longitude: %w", err)
	}

	latV, okLat := lat.Value().(float64)
	lonV, okLon := lon.Value().(float64)
	if !okLat || !okLon {
		return nil, fmt.Errorf("geoclue returned non-numeric coordinates")
	}

	log.Debug().Float64("lat", latV).Float64("lon", lonV).Msg("Location from Geoclue")
	return &Location{Name: "geoclue", Latitude: latV, Longitude: lonV}, nil
}

// updatedPath extracts the new Location object path from a LocationUpdated
// signal (old, new).
func updatedPath(sig *dbus.Signal) (dbus.ObjectPath, bool) {
	if sig == nil || sig.Name != geoclueClientIfc+".LocationUpdated" || len(sig.Body) < 2 {
		return "", false
	}
	p, ok := sig.Body[1].(dbus.ObjectPath)
	return p, ok && p != "/"
}

func currentLocationPath(client dbus.BusObject) (dbus.ObjectPath, error) {
	v, err := client.GetProperty(geoclueClientIfc + ".Location")
	if err != nil {
		return "", err
	}
	p, ok := v.Value().(dbus.ObjectPath)
	if !ok {
		return "", fmt.Errorf("unexpected Location type %T", v.Value())
	}
	return p, nil
}
