//go:build linux

// Package gateway registers the HSP Audio Gateway profile with BlueZ and
// hands incoming RFCOMM control channels to headset sessions. It also owns
// the oFono signal subscription and feeds call notifications to whichever
// session is active.
package gateway

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	dbus "github.com/godbus/dbus/v5"

	"bluetooth-hsp/internal/headset"
	"bluetooth-hsp/internal/ofono"
	"bluetooth-hsp/internal/sco"
)

const (
	bluezService        = "org.bluez"
	profileIface        = "org.bluez.Profile1"
	profileManagerIface = "org.bluez.ProfileManager1"
	deviceIface         = "org.bluez.Device1"
	adapterIface        = "org.bluez.Adapter1"
	propsIface          = "org.freedesktop.DBus.Properties"

	hspAGUUID   = "00001112-0000-1000-8000-00805f9b34fb"
	profilePath = dbus.ObjectPath("/Profile/HSPAGProfile")
)

var errSessionActive = errors.New("gateway: a headset is already connected")

// Config carries the gateway dependencies.
type Config struct {
	Bus         *dbus.Conn
	ServiceName string
	Volume      headset.VolumeControl
	Log         *slog.Logger

	// OnSpeakerGain and OnMicrophoneGain are forwarded to each session.
	OnSpeakerGain    func(int)
	OnMicrophoneGain func(int)
}

// Gateway is the long-lived profile endpoint. One headset at a time.
type Gateway struct {
	mu      sync.Mutex
	closed  bool
	session *headset.Session

	bus    *dbus.Conn
	tel    *ofono.Client
	volume headset.VolumeControl
	log    *slog.Logger
	cfg    Config

	sigCh chan *dbus.Signal

	// cleanup functions run once in Close, in reverse order
	cleanup []func()
}

// New exports the Profile1 object, registers it with BlueZ and subscribes to
// oFono call signals on the same bus.
func New(cfg Config) (*Gateway, error) {
	if cfg.Bus == nil {
		return nil, errors.New("gateway: bus connection required")
	}
	if cfg.Volume == nil {
		cfg.Volume = headset.NopVolumeControl{}
	}
	g := &Gateway{
		bus:    cfg.Bus,
		tel:    ofono.NewClient(cfg.Bus, cfg.Log),
		volume: cfg.Volume,
		log:    cfg.Log.With("component", "gateway"),
		cfg:    cfg,
	}

	if err := g.bus.Export(&profileHandler{g: g}, profilePath, profileIface); err != nil {
		return nil, fmt.Errorf("gateway: export profile: %w", err)
	}
	g.cleanup = append(g.cleanup, func() {
		_ = g.bus.Export(nil, profilePath, profileIface)
	})

	g.registerProfile()

	if err := ofono.AddMatches(g.bus); err != nil {
		g.runCleanup()
		return nil, fmt.Errorf("gateway: subscribe telephony signals: %w", err)
	}
	g.cleanup = append(g.cleanup, func() { ofono.RemoveMatches(g.bus) })

	g.sigCh = make(chan *dbus.Signal, 16)
	g.bus.Signal(g.sigCh)
	g.cleanup = append(g.cleanup, func() {
		g.bus.RemoveSignal(g.sigCh)
		close(g.sigCh)
	})
	go g.signalLoop()

	return g, nil
}

// registerProfile asks BlueZ to bind the endpoint to the HSP AG UUID. The
// reply arrives asynchronously; a NotSupported answer means the daemon was
// built without HSP and is worth a notice, not a failure.
func (g *Gateway) registerProfile() {
	opts := map[string]dbus.Variant{
		"Name": dbus.MakeVariant(g.cfg.ServiceName),
	}
	pm := g.bus.Object(bluezService, dbus.ObjectPath("/org/bluez"))
	ch := make(chan *dbus.Call, 1)
	pm.Go(profileManagerIface+".RegisterProfile", 0, ch, profilePath, hspAGUUID, opts)
	go func() {
		call := <-ch
		switch {
		case call.Err == nil:
			g.log.Info("HSP AG profile registered", "uuid", hspAGUUID)
		case isDBusError(call.Err, "org.bluez.Error.NotSupported"):
			g.log.Info("bluetoothd lacks HSP support, profile not registered")
		default:
			g.log.Error("RegisterProfile failed", "err", call.Err)
		}
	}()
	g.cleanup = append(g.cleanup, func() {
		_ = pm.Call(profileManagerIface+".UnregisterProfile", 0, profilePath).Err
	})
}

func isDBusError(err error, name string) bool {
	var de dbus.Error
	return errors.As(err, &de) && de.Name == name
}

// profileHandler implements org.bluez.Profile1.
type profileHandler struct {
	g *Gateway
}

// Release is called by BlueZ when the profile is unregistered.
func (p *profileHandler) Release() *dbus.Error { return nil }

// RequestDisconnection tears down the session for the named device.
func (p *profileHandler) RequestDisconnection(dev dbus.ObjectPath) *dbus.Error {
	p.g.log.Info("disconnection requested", "device", dev)
	p.g.closeSession()
	return nil
}

// NewConnection receives the RFCOMM control channel for a freshly connected
// headset. A second headset while one is active is rejected.
func (p *profileHandler) NewConnection(dev dbus.ObjectPath, fd dbus.UnixFD, _ map[string]dbus.Variant) *dbus.Error {
	if err := p.g.newConnection(dev, int(fd)); err != nil {
		_ = os.NewFile(uintptr(fd), "rfcomm").Close()
		if errors.Is(err, errSessionActive) {
			return dbus.NewError("org.bluez.Error.Rejected", []interface{}{err.Error()})
		}
		p.g.log.Error("connection refused", "device", dev, "err", err)
		return dbus.NewError("org.bluez.Error.InvalidArguments", []interface{}{err.Error()})
	}
	return nil
}

func (g *Gateway) newConnection(dev dbus.ObjectPath, fd int) error {
	local, remote, err := g.resolveAddresses(dev)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return errors.New("gateway: closed")
	}
	if g.session != nil {
		return errSessionActive
	}

	g.log.Info("headset connected", "device", dev, "remote", remote)
	sess := headset.New(headset.Config{
		Conn:             os.NewFile(uintptr(fd), "rfcomm"),
		Local:            local,
		Remote:           remote,
		Telephony:        g.tel,
		Volume:           g.volume,
		Log:              g.cfg.Log,
		OnSpeakerGain:    g.cfg.OnSpeakerGain,
		OnMicrophoneGain: g.cfg.OnMicrophoneGain,
	})
	g.session = sess

	go func() {
		<-sess.Done()
		g.mu.Lock()
		if g.session == sess {
			g.session = nil
		}
		g.mu.Unlock()
	}()
	return nil
}

// resolveAddresses reads the remote device address and, via its Adapter
// property, the local controller address.
func (g *Gateway) resolveAddresses(dev dbus.ObjectPath) (local, remote sco.Addr, err error) {
	devObj := g.bus.Object(bluezService, dev)

	var v dbus.Variant
	if call := devObj.Call(propsIface+".Get", 0, deviceIface, "Address"); call.Err != nil {
		return local, remote, fmt.Errorf("gateway: device address: %w", call.Err)
	} else if err := call.Store(&v); err != nil {
		return local, remote, fmt.Errorf("gateway: device address: %w", err)
	}
	addr, _ := v.Value().(string)
	remote, err = sco.ParseAddr(addr)
	if err != nil {
		return local, remote, fmt.Errorf("gateway: device address: %w", err)
	}

	if call := devObj.Call(propsIface+".Get", 0, deviceIface, "Adapter"); call.Err != nil {
		return local, remote, fmt.Errorf("gateway: device adapter: %w", call.Err)
	} else if err := call.Store(&v); err != nil {
		return local, remote, fmt.Errorf("gateway: device adapter: %w", err)
	}
	adapterPath, _ := v.Value().(dbus.ObjectPath)

	adObj := g.bus.Object(bluezService, adapterPath)
	if call := adObj.Call(propsIface+".Get", 0, adapterIface, "Address"); call.Err != nil {
		return local, remote, fmt.Errorf("gateway: adapter address: %w", call.Err)
	} else if err := call.Store(&v); err != nil {
		return local, remote, fmt.Errorf("gateway: adapter address: %w", err)
	}
	addr, _ = v.Value().(string)
	local, err = sco.ParseAddr(addr)
	if err != nil {
		return local, remote, fmt.Errorf("gateway: adapter address: %w", err)
	}
	return local, remote, nil
}

// signalLoop fans telephony bus signals into the active session.
func (g *Gateway) signalLoop() {
	for sig := range g.sigCh {
		ev, ok := ofono.ParseSignal(sig)
		if !ok {
			continue
		}
		g.mu.Lock()
		sess := g.session
		g.mu.Unlock()
		if sess != nil {
			sess.Deliver(ev)
		}
	}
}

// Session returns the active headset session, or nil.
func (g *Gateway) Session() *headset.Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.session
}

func (g *Gateway) closeSession() {
	g.mu.Lock()
	sess := g.session
	g.session = nil
	g.mu.Unlock()
	if sess != nil {
		sess.Close()
	}
}

// Close unregisters the profile and tears down any active session.
// Idempotent.
func (g *Gateway) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	g.mu.Unlock()

	g.closeSession()
	g.runCleanup()
	return nil
}

func (g *Gateway) runCleanup() {
	g.mu.Lock()
	cleanup := g.cleanup
	g.cleanup = nil
	g.mu.Unlock()
	for i := len(cleanup) - 1; i >= 0; i-- {
		cleanup[i]()
	}
}
