package ble

import (
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplicationTree(t *testing.T) {
	app := buildApplication(nil)

	objs, derr := app.GetManagedObjects()
	require.Nil(t, derr)

	var services, chars, descs int
	for _, ifaces := range objs {
		if _, ok := ifaces[gattServiceIface]; ok {
			services++
		}
		if _, ok := ifaces[gattCharIface]; ok {
			chars++
		}
		if _, ok := ifaces[gattDescIface]; ok {
			descs++
		}
	}
	assert.Equal(t, 3, services, "hid, battery, device info")
	assert.Equal(t, 2, descs, "one report reference per input characteristic")
	assert.Greater(t, chars, 5)
}

func TestReportReferenceDescriptors(t *testing.T) {
	app := buildApplication(nil)

	var refs [][]byte
	for _, d := range app.descs {
		if d.uuid == "2908" {
			refs = append(refs, d.value)
		}
	}
	require.Len(t, refs, 2)
	assert.Contains(t, refs, []byte{ridKeyboard, 0x01})
	assert.Contains(t, refs, []byte{ridConsumer, 0x01})
}

func TestInputCharacteristicsStartZeroed(t *testing.T) {
	app := buildApplication(nil)

	kb, derr := app.inputKeyboard.ReadValue(nil)
	require.Nil(t, derr)
	assert.Equal(t, make([]byte, 8), kb)

	cc, derr := app.inputConsumer.ReadValue(nil)
	require.Nil(t, derr)
	assert.Equal(t, make([]byte, 2), cc)
}

func TestNotifyRequiresSubscription(t *testing.T) {
	// Without StartNotify the value updates but no signal is emitted;
	// with a nil conn an emit would panic, so this doubles as a guard.
	app := buildApplication(nil)

	app.inputKeyboard.notify([]byte{0, 0, 0x04, 0, 0, 0, 0, 0})

	v, derr := app.inputKeyboard.ReadValue(nil)
	require.Nil(t, derr)
	assert.Equal(t, byte(0x04), v[2])
	assert.False(t, app.inputKeyboard.subscribed())
}

func TestPropsBridge(t *testing.T) {
	svc := &gattService{path: "/x/svc", uuid: "1812", primary: true}
	bridge := propsBridge{svc}

	all, derr := bridge.GetAll(gattServiceIface)
	require.Nil(t, derr)
	assert.Equal(t, dbus.MakeVariant("1812"), all["UUID"])

	_, derr = bridge.GetAll("org.bluez.Nope")
	assert.NotNil(t, derr)

	v, derr := bridge.Get(gattServiceIface, "Primary")
	require.Nil(t, derr)
	assert.Equal(t, dbus.MakeVariant(true), v)
}

func TestConsumerUsagesFitReportMap(t *testing.T) {
	// The consumer slot declares a logical maximum of 0x03FF.
	for code, usage := range consumerUsages {
		assert.LessOrEqual(t, usage, uint16(0x03FF), code)
	}
}
