package ble

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/godbus/dbus/v5"
)

const (
	bluezBus     = "org.bluez"
	adapterIface = "org.bluez.Adapter1"
)

// TransportConfig wires a BlueZTransport.
type TransportConfig struct {
	Adapter    string // hci0
	DeviceName string // advertised local name
	Logger     *slog.Logger
}

// BlueZTransport owns the D-Bus lifecycle: adapter baseline, GATT
// application registration and LE advertising. When bring-up fails the
// transport stays unavailable and the notify methods are no-ops; the
// rest of the daemon keeps running without HID.
type BlueZTransport struct {
	cfg TransportConfig
	log *slog.Logger

	conn      *dbus.Conn
	app       *hidApplication
	available atomic.Bool
}

func NewTransport(cfg TransportConfig) *BlueZTransport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Adapter == "" {
		cfg.Adapter = "hci0"
	}
	return &BlueZTransport{cfg: cfg, log: logger.With("component", "ble")}
}

// Available reports whether the HID peripheral is registered.
func (t *BlueZTransport) Available() bool {
	return t.available.Load()
}

// Start brings the peripheral up. Failure is returned for logging but
// is not fatal to the caller; the transport just stays unavailable.
func (t *BlueZTransport) Start() error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return fmt.Errorf("system bus: %w", err)
	}
	t.conn = conn

	adapterPath := dbus.ObjectPath("/org/bluez/" + t.cfg.Adapter)
	adapter := conn.Object(bluezBus, adapterPath)
	if err := t.baseline(adapter); err != nil {
		return fmt.Errorf("adapter %s: %w", t.cfg.Adapter, err)
	}

	if err := t.registerAgent(); err != nil {
		return fmt.Errorf("agent: %w", err)
	}

	t.app = buildApplication(conn)
	if err := t.app.export(); err != nil {
		return fmt.Errorf("export application: %w", err)
	}
	if err := t.registerApplication(adapter); err != nil {
		return fmt.Errorf("register application: %w", err)
	}
	if err := t.registerAdvertisement(adapter); err != nil {
		// Registered app without advert still serves an already
		// bonded central; treat as degraded, not fatal.
		t.log.Warn("advertising registration failed", "error", err)
	}

	t.available.Store(true)
	t.log.Info("hid peripheral registered",
		"adapter", t.cfg.Adapter, "name", t.cfg.DeviceName)
	return nil
}

// Stop unregisters everything. Safe to call after a failed Start.
func (t *BlueZTransport) Stop() {
	t.available.Store(false)
	if t.conn == nil {
		return
	}
	adapter := t.conn.Object(bluezBus, dbus.ObjectPath("/org/bluez/"+t.cfg.Adapter))
	_ = adapter.Call("org.bluez.LEAdvertisingManager1.UnregisterAdvertisement", 0,
		dbus.ObjectPath(advPath)).Err
	_ = adapter.Call("org.bluez.GattManager1.UnregisterApplication", 0,
		dbus.ObjectPath(basePath)).Err
	_ = t.conn.Close()
	t.conn = nil
}

// NotifyKeyboard sends an 8-byte keyboard report.
func (t *BlueZTransport) NotifyKeyboard(report []byte) {
	if !t.available.Load() || t.app == nil {
		return
	}
	t.app.inputKeyboard.notify(report)
}

// NotifyConsumer sends a 2-byte consumer report.
func (t *BlueZTransport) NotifyConsumer(report []byte) {
	if !t.available.Load() || t.app == nil {
		return
	}
	t.app.inputConsumer.notify(report)
}

// Subscribed reports whether a central enabled input notifications,
// which is the practical signal that the HID link is usable.
func (t *BlueZTransport) Subscribed() bool {
	if t.app == nil {
		return false
	}
	return t.app.inputKeyboard.subscribed() || t.app.inputConsumer.subscribed()
}

// baseline re-applies the adapter state pairing depends on. Power
// cycles and bluetoothd restarts can silently reset these.
func (t *BlueZTransport) baseline(adapter dbus.BusObject) error {
	if err := adapter.SetProperty(adapterIface+".Powered", dbus.MakeVariant(true)); err != nil {
		return err
	}
	// The rest are best effort; some builds expose them read-only.
	for prop, value := range map[string]dbus.Variant{
		"PairableTimeout":     dbus.MakeVariant(uint32(0)),
		"DiscoverableTimeout": dbus.MakeVariant(uint32(0)),
		"Pairable":            dbus.MakeVariant(true),
		"Discoverable":        dbus.MakeVariant(true),
		"Alias":               dbus.MakeVariant(t.cfg.DeviceName),
	} {
		if err := adapter.SetProperty(adapterIface+"."+prop, value); err != nil {
			t.log.Debug("adapter property not set", "property", prop, "error", err)
		}
	}
	// Give the controller a moment after powering on.
	time.Sleep(200 * time.Millisecond)
	return nil
}

func (t *BlueZTransport) registerAgent() error {
	if err := t.conn.Export(noIOAgent{}, agentPath, "org.bluez.Agent1"); err != nil {
		return err
	}
	mgr := t.conn.Object(bluezBus, "/org/bluez")
	if err := mgr.Call("org.bluez.AgentManager1.RegisterAgent", 0,
		dbus.ObjectPath(agentPath), "NoInputNoOutput").Err; err != nil {
		return err
	}
	if err := mgr.Call("org.bluez.AgentManager1.RequestDefaultAgent", 0,
		dbus.ObjectPath(agentPath)).Err; err != nil {
		t.log.Debug("default agent request failed", "error", err)
	}
	return nil
}

func (t *BlueZTransport) registerApplication(adapter dbus.BusObject) error {
	return adapter.Call("org.bluez.GattManager1.RegisterApplication", 0,
		dbus.ObjectPath(basePath), map[string]dbus.Variant{}).Err
}

func (t *BlueZTransport) registerAdvertisement(adapter dbus.BusObject) error {
	adv := &advertisement{localName: t.cfg.DeviceName}
	if err := t.conn.Export(adv, advPath, "org.bluez.LEAdvertisement1"); err != nil {
		return err
	}
	if err := t.conn.Export(propsBridge{adv}, advPath, propsIface); err != nil {
		return err
	}
	return adapter.Call("org.bluez.LEAdvertisingManager1.RegisterAdvertisement", 0,
		dbus.ObjectPath(advPath), map[string]dbus.Variant{}).Err
}
