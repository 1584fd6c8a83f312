package main

import (
	"context"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	evdev "github.com/holoplot/go-evdev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const procDevices = `I: Bus=0019 Vendor=0000 Product=0001 Version=0000
N: Name="Power Button"
P: Phys=PNP0C0C/button/input0
S: Sysfs=/devices/LNXSYSTM:00/LNXSYBUS:00/PNP0C0C:00/input/input0
U: Uniq=
H: Handlers=kbd event0
B: PROP=0
B: EV=3
B: KEY=10000000000000 0

I: Bus=0011 Vendor=0001 Product=0001 Version=ab41
N: Name="AT Translated Set 2 keyboard"
P: Phys=isa0060/serio0/input0
S: Sysfs=/devices/platform/i8042/serio0/input/input3
U: Uniq=
H: Handlers=sysrq kbd leds event3
B: PROP=0
B: EV=120013
B: KEY=402000000 3803078f800d001 feffffdfffefffff fffffffffffffffe
B: MSC=10
B: LED=7

I: Bus=0003 Vendor=046d Product=c52b Version=0111
N: Name="Logitech USB Receiver Mouse"
P: Phys=usb-0000:00:14.0-1/input2:1
S: Sysfs=/devices/pci0000:00/0000:00:14.0/usb1/1-1/1-1:1.2/input/input7
U: Uniq=
H: Handlers=mouse0 event5
B: PROP=0
B: EV=17
B: KEY=ffff0000 0 0 0 0
B: REL=1943
B: MSC=10

I: Bus=0000 Vendor=0000 Product=0000 Version=0000
N: Name="HDA Intel PCH Mic"
P: Phys=ALSA
S: Sysfs=/devices/pci0000:00/0000:00:1f.3/sound/card0/input9
U: Uniq=
H: Handlers=
B: PROP=0
B: EV=21
B: SW=10
`

func TestParseInputDevices(t *testing.T) {
	devices, err := ParseInputDevices(strings.NewReader(procDevices))
	require.NoError(t, err)
	require.Len(t, devices, 3, "devices without an event handler are skipped")

	assert.Equal(t, "Power Button", devices[0].Name)
	assert.Equal(t, "event0", devices[0].Event())
	assert.True(t, devices[0].HasEvent(evdev.EV_KEY))
	assert.True(t, devices[0].HasKey(evdev.KEY_POWER))
	assert.False(t, devices[0].IsKeyboard())

	assert.Equal(t, "AT Translated Set 2 keyboard", devices[1].Name)
	assert.Equal(t, []string{"sysrq", "kbd", "leds", "event3"}, devices[1].Handlers)
	assert.True(t, devices[1].HasEvent(evdev.EV_LED))
	assert.True(t, devices[1].IsKeyboard())

	assert.Equal(t, "event5", devices[2].Event())
	assert.True(t, devices[2].HasKey(evdev.BTN_LEFT))
	assert.False(t, devices[2].IsKeyboard())
}

func TestParseInputDevicesBadBitmap(t *testing.T) {
	_, err := ParseInputDevices(strings.NewReader("N: Name=\"x\"\nH: Handlers=event1\nB: KEY=zz\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KEY bitmap")
}

func TestParseBitmapWordWidth(t *testing.T) {
	// KEY_A (30) and KEY_ENTER (28) sit in the lowest word; KEY_POWER (116)
	// lands in a higher one whose index depends on the word width.
	tests := []struct {
		name   string
		bitmap string
		digits int
	}{
		{"64-bit", "10000000000000 50000000", 16},
		{"32-bit", "100000 0 0 50000000", 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bits, err := parseBitmapWords(tt.bitmap, tt.digits)
			require.NoError(t, err)
			assert.Equal(t, uint(1), bits.Bit(int(evdev.KEY_A)))
			assert.Equal(t, uint(1), bits.Bit(int(evdev.KEY_ENTER)))
			assert.Equal(t, uint(1), bits.Bit(int(evdev.KEY_POWER)))
			assert.Equal(t, 3, popCount(bits))
		})
	}
}

func TestParseBitmapWidensForLongerWords(t *testing.T) {
	// A 64-bit kernel read by a 32-bit build.
	bits, err := parseBitmapWords("10000000000000 0", 8)
	require.NoError(t, err)
	assert.Equal(t, uint(1), bits.Bit(int(evdev.KEY_POWER)))
}

func popCount(n *big.Int) int {
	c := 0
	for i := 0; i < n.BitLen(); i++ {
		c += int(n.Bit(i))
	}
	return c
}

type recordingDeviceSink struct {
	mu     sync.Mutex
	events []string
}

func (s *recordingDeviceSink) DeviceMatched(path, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, "matched "+path+" "+name)
}

func (s *recordingDeviceSink) DeviceTerminated(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, "terminated "+path)
}

func (s *recordingDeviceSink) Events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

func newTestDiscovery(t *testing.T, cfg DeviceConfig) (*Discovery, *recordingDeviceSink) {
	t.Helper()
	dir := t.TempDir()
	procPath := filepath.Join(dir, "devices")
	require.NoError(t, os.WriteFile(procPath, []byte(procDevices), 0644))
	devDir := filepath.Join(dir, "input")
	require.NoError(t, os.Mkdir(devDir, 0755))

	sink := &recordingDeviceSink{}
	d := NewDiscovery(cfg, sink, nil)
	d.procPath = procPath
	d.devDir = devDir
	return d, sink
}

func TestDiscoveryScan(t *testing.T) {
	d, sink := newTestDiscovery(t, DeviceConfig{Match: "keyboards"})

	n, err := d.Scan()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{
		"matched " + filepath.Join(d.devDir, "event3") + " AT Translated Set 2 keyboard",
	}, sink.Events())
}

func TestDiscoveryMatchAllWithIgnore(t *testing.T) {
	d, sink := newTestDiscovery(t, DeviceConfig{Match: "all", Ignore: []string{"Power Button"}})

	n, err := d.Scan()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, sink.Events(), 2)
}

func TestDiscoveryFollowsHotplug(t *testing.T) {
	d, sink := newTestDiscovery(t, DeviceConfig{Match: "keyboards"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	keyboard := filepath.Join(d.devDir, "event3")
	mouse := filepath.Join(d.devDir, "event5")

	// The watch is installed asynchronously; keep touching the node until
	// the create is seen.
	require.Eventually(t, func() bool {
		os.Remove(keyboard)
		if err := os.WriteFile(keyboard, nil, 0600); err != nil {
			return false
		}
		for _, e := range sink.Events() {
			if e == "matched "+keyboard+" AT Translated Set 2 keyboard" {
				return true
			}
		}
		return false
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, os.WriteFile(mouse, nil, 0600))
	require.NoError(t, os.Remove(keyboard))

	require.Eventually(t, func() bool {
		events := sink.Events()
		return len(events) > 0 && events[len(events)-1] == "terminated "+keyboard
	}, 2*time.Second, 5*time.Millisecond)

	for _, e := range sink.Events() {
		assert.NotContains(t, e, "matched "+mouse, "mouse is not a keyboard")
	}

	// Non-event nodes are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(d.devDir, "mouse0"), nil, 0600))
}
