package ble

import (
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
)

const (
	basePath  = "/com/llehouerou/remotehub/hid"
	advPath   = basePath + "/advertisement0"
	agentPath = basePath + "/agent"

	gattServiceIface = "org.bluez.GattService1"
	gattCharIface    = "org.bluez.GattCharacteristic1"
	gattDescIface    = "org.bluez.GattDescriptor1"
	propsIface       = "org.freedesktop.DBus.Properties"

	appearanceKeyboard = uint16(0x03C1)

	ridKeyboard = 0x01
	ridConsumer = 0x02
)

// reportMap describes a boot keyboard (report ID 1, 8 bytes) plus a
// consumer control slot (report ID 2, one 16-bit array usage).
var reportMap = []byte{
	0x05, 0x01, 0x09, 0x06, 0xA1, 0x01,
	0x85, 0x01, // report ID 1
	0x05, 0x07,
	0x19, 0xE0, 0x29, 0xE7, // modifier range
	0x15, 0x00, 0x25, 0x01,
	0x75, 0x01, 0x95, 0x08,
	0x81, 0x02,
	0x95, 0x01, 0x75, 0x08, // reserved byte
	0x81, 0x01,
	0x95, 0x06, 0x75, 0x08, // six key slots
	0x15, 0x00, 0x25, 0x65,
	0x19, 0x00, 0x29, 0x65,
	0x81, 0x00,
	0xC0,

	0x05, 0x0C, 0x09, 0x01, 0xA1, 0x01,
	0x85, 0x02, // report ID 2
	0x15, 0x00,
	0x26, 0xFF, 0x03, // logical max 0x03FF
	0x19, 0x00,
	0x2A, 0xFF, 0x03,
	0x75, 0x10,
	0x95, 0x01,
	0x81, 0x00,
	0xC0,
}

// ── GATT object tree ────────────────────────────────────────────────

type gattService struct {
	path    dbus.ObjectPath
	uuid    string
	primary bool
}

func (s *gattService) properties() map[string]map[string]dbus.Variant {
	return map[string]map[string]dbus.Variant{
		gattServiceIface: {
			"UUID":    dbus.MakeVariant(s.uuid),
			"Primary": dbus.MakeVariant(s.primary),
		},
	}
}

type gattCharacteristic struct {
	conn    *dbus.Conn
	path    dbus.ObjectPath
	uuid    string
	service dbus.ObjectPath
	flags   []string

	mu        sync.Mutex
	value     []byte
	notifying bool

	onWrite func([]byte)
}

func (c *gattCharacteristic) properties() map[string]map[string]dbus.Variant {
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]map[string]dbus.Variant{
		gattCharIface: {
			"UUID":      dbus.MakeVariant(c.uuid),
			"Service":   dbus.MakeVariant(c.service),
			"Flags":     dbus.MakeVariant(c.flags),
			"Notifying": dbus.MakeVariant(c.notifying),
		},
	}
}

func (c *gattCharacteristic) ReadValue(_ map[string]dbus.Variant) ([]byte, *dbus.Error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.value...), nil
}

func (c *gattCharacteristic) WriteValue(value []byte, _ map[string]dbus.Variant) *dbus.Error {
	c.mu.Lock()
	c.value = append(c.value[:0], value...)
	onWrite := c.onWrite
	c.mu.Unlock()
	if onWrite != nil {
		onWrite(value)
	}
	return nil
}

func (c *gattCharacteristic) StartNotify() *dbus.Error {
	c.mu.Lock()
	c.notifying = true
	c.mu.Unlock()
	return nil
}

func (c *gattCharacteristic) StopNotify() *dbus.Error {
	c.mu.Lock()
	c.notifying = false
	c.mu.Unlock()
	return nil
}

// notify pushes a new value to a subscribed central via the standard
// PropertiesChanged signal. Silently skipped when nobody subscribed.
func (c *gattCharacteristic) notify(value []byte) {
	c.mu.Lock()
	c.value = append(c.value[:0], value...)
	notifying := c.notifying
	c.mu.Unlock()
	if !notifying {
		return
	}
	_ = c.conn.Emit(c.path, propsIface+".PropertiesChanged",
		gattCharIface,
		map[string]dbus.Variant{"Value": dbus.MakeVariant(value)},
		[]string{},
	)
}

func (c *gattCharacteristic) subscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notifying
}

type gattDescriptor struct {
	path  dbus.ObjectPath
	uuid  string
	char  dbus.ObjectPath
	value []byte
}

func (d *gattDescriptor) properties() map[string]map[string]dbus.Variant {
	return map[string]map[string]dbus.Variant{
		gattDescIface: {
			"UUID":           dbus.MakeVariant(d.uuid),
			"Characteristic": dbus.MakeVariant(d.char),
			"Flags":          dbus.MakeVariant([]string{"read"}),
		},
	}
}

func (d *gattDescriptor) ReadValue(_ map[string]dbus.Variant) ([]byte, *dbus.Error) {
	return append([]byte(nil), d.value...), nil
}

// ── properties bridge ───────────────────────────────────────────────

type propertied interface {
	properties() map[string]map[string]dbus.Variant
}

// propsBridge answers org.freedesktop.DBus.Properties for one object.
type propsBridge struct {
	obj propertied
}

func (p propsBridge) Get(iface, name string) (dbus.Variant, *dbus.Error) {
	props, ok := p.obj.properties()[iface]
	if !ok {
		return dbus.Variant{}, dbus.MakeFailedError(fmt.Errorf("unknown interface %s", iface))
	}
	v, ok := props[name]
	if !ok {
		return dbus.Variant{}, dbus.MakeFailedError(fmt.Errorf("unknown property %s", name))
	}
	return v, nil
}

func (p propsBridge) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	props, ok := p.obj.properties()[iface]
	if !ok {
		return nil, dbus.MakeFailedError(fmt.Errorf("unknown interface %s", iface))
	}
	return props, nil
}

// ── application ─────────────────────────────────────────────────────

// hidApplication is the exported GATT object tree: HID, battery and
// device-info services plus their characteristics and descriptors.
type hidApplication struct {
	conn *dbus.Conn

	services []*gattService
	chars    []*gattCharacteristic
	descs    []*gattDescriptor

	inputKeyboard *gattCharacteristic
	inputConsumer *gattCharacteristic
	battery       *gattCharacteristic
}

// GetManagedObjects implements org.freedesktop.DBus.ObjectManager for
// BlueZ application discovery.
func (a *hidApplication) GetManagedObjects() (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, *dbus.Error) {
	out := make(map[dbus.ObjectPath]map[string]map[string]dbus.Variant)
	for _, s := range a.services {
		out[s.path] = s.properties()
	}
	for _, c := range a.chars {
		out[c.path] = c.properties()
	}
	for _, d := range a.descs {
		out[d.path] = d.properties()
	}
	return out, nil
}

func buildApplication(conn *dbus.Conn) *hidApplication {
	app := &hidApplication{conn: conn}

	hid := app.addService("svc_hid", "1812")

	// Protocol mode: report protocol, writes accepted and ignored
	// beyond storing the value.
	proto := app.addChar(hid, "protocol_mode", "2A4E",
		[]string{"read", "write-without-response"})
	proto.value = []byte{0x01}

	info := app.addChar(hid, "hid_information", "2A4A", []string{"read"})
	info.value = []byte{0x11, 0x01, 0x00, 0x03} // bcdHID 1.11, no country, flags

	cp := app.addChar(hid, "hid_control_point", "2A4C",
		[]string{"write-without-response"})
	cp.onWrite = func([]byte) {}

	rmap := app.addChar(hid, "report_map", "2A4B", []string{"read"})
	rmap.value = append([]byte(nil), reportMap...)

	app.inputKeyboard = app.addChar(hid, "input_keyboard", "2A4D",
		[]string{"read", "notify"})
	app.inputKeyboard.value = make([]byte, 8)
	app.addDesc(app.inputKeyboard, "2908", []byte{ridKeyboard, 0x01})

	app.inputConsumer = app.addChar(hid, "input_consumer", "2A4D",
		[]string{"read", "notify"})
	app.inputConsumer.value = make([]byte, 2)
	app.addDesc(app.inputConsumer, "2908", []byte{ridConsumer, 0x01})

	bas := app.addService("svc_battery", "180F")
	app.battery = app.addChar(bas, "battery_level", "2A19",
		[]string{"read", "notify"})
	app.battery.value = []byte{100}

	dis := app.addService("svc_deviceinfo", "180A")
	mfg := app.addChar(dis, "manufacturer", "2A29", []string{"read"})
	mfg.value = []byte("remotehub")
	model := app.addChar(dis, "model", "2A24", []string{"read"})
	model.value = []byte("remotehub-1")
	pnp := app.addChar(dis, "pnp_id", "2A50", []string{"read"})
	pnp.value = []byte{0x02, 0xFF, 0xFF, 0x01, 0x00, 0x00, 0x01}

	return app
}

func (a *hidApplication) addService(name, uuid string) *gattService {
	s := &gattService{
		path:    dbus.ObjectPath(fmt.Sprintf("%s/%s", basePath, name)),
		uuid:    uuid,
		primary: true,
	}
	a.services = append(a.services, s)
	return s
}

func (a *hidApplication) addChar(svc *gattService, name, uuid string, flags []string) *gattCharacteristic {
	c := &gattCharacteristic{
		conn:    a.conn,
		path:    dbus.ObjectPath(fmt.Sprintf("%s/%s", svc.path, name)),
		uuid:    uuid,
		service: svc.path,
		flags:   flags,
	}
	a.chars = append(a.chars, c)
	return c
}

func (a *hidApplication) addDesc(char *gattCharacteristic, uuid string, value []byte) *gattDescriptor {
	d := &gattDescriptor{
		path:  dbus.ObjectPath(fmt.Sprintf("%s/desc_%s", char.path, uuid)),
		uuid:  uuid,
		char:  char.path,
		value: value,
	}
	a.descs = append(a.descs, d)
	return d
}

// export registers the whole tree on the bus.
func (a *hidApplication) export() error {
	if err := a.conn.Export(a, basePath, "org.freedesktop.DBus.ObjectManager"); err != nil {
		return err
	}
	for _, s := range a.services {
		if err := a.conn.Export(propsBridge{s}, s.path, propsIface); err != nil {
			return err
		}
	}
	for _, c := range a.chars {
		if err := a.conn.Export(c, c.path, gattCharIface); err != nil {
			return err
		}
		if err := a.conn.Export(propsBridge{c}, c.path, propsIface); err != nil {
			return err
		}
	}
	for _, d := range a.descs {
		if err := a.conn.Export(d, d.path, gattDescIface); err != nil {
			return err
		}
		if err := a.conn.Export(propsBridge{d}, d.path, propsIface); err != nil {
			return err
		}
	}
	return nil
}

// ── advertisement ───────────────────────────────────────────────────

type advertisement struct {
	localName string
}

func (a *advertisement) properties() map[string]map[string]dbus.Variant {
	return map[string]map[string]dbus.Variant{
		"org.bluez.LEAdvertisement1": {
			"Type":         dbus.MakeVariant("peripheral"),
			"ServiceUUIDs": dbus.MakeVariant([]string{"1812", "180F", "180A"}),
			"LocalName":    dbus.MakeVariant(a.localName),
			"Appearance":   dbus.MakeVariant(appearanceKeyboard),
			"Discoverable": dbus.MakeVariant(true),
		},
	}
}

func (a *advertisement) Release() *dbus.Error { return nil }

// ── pairing agent ───────────────────────────────────────────────────

// noIOAgent accepts every pairing request; registered with the
// NoInputNoOutput capability so BlueZ uses just-works pairing.
type noIOAgent struct{}

func (noIOAgent) Release() *dbus.Error { return nil }
func (noIOAgent) Cancel() *dbus.Error  { return nil }

func (noIOAgent) RequestPinCode(_ dbus.ObjectPath) (string, *dbus.Error) {
	return "0000", nil
}

func (noIOAgent) RequestPasskey(_ dbus.ObjectPath) (uint32, *dbus.Error) {
	return 0, nil
}

func (noIOAgent) DisplayPasskey(_ dbus.ObjectPath, _ uint32, _ uint16) *dbus.Error {
	return nil
}

func (noIOAgent) DisplayPinCode(_ dbus.ObjectPath, _ string) *dbus.Error {
	return nil
}

func (noIOAgent) RequestConfirmation(_ dbus.ObjectPath, _ uint32) *dbus.Error {
	return nil
}

func (noIOAgent) RequestAuthorization(_ dbus.ObjectPath) *dbus.Error {
	return nil
}

func (noIOAgent) AuthorizeService(_ dbus.ObjectPath, _ string) *dbus.Error {
	return nil
}
