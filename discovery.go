package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"
	evdev "github.com/holoplot/go-evdev"
)

const (
	procInputDevices = "/proc/bus/input/devices"
	devInputDir      = "/dev/input"
)

// InputDevice is one section of /proc/bus/input/devices.
type InputDevice struct {
	Name     string
	Handlers []string

	ev  *big.Int
	key *big.Int
}

// Event returns the evdev handler name such as "event4", or "".
func (d InputDevice) Event() string {
	for _, h := range d.Handlers {
		if strings.HasPrefix(h, "event") {
			return h
		}
	}
	return ""
}

// HasEvent reports whether the device emits events of type t.
func (d InputDevice) HasEvent(t evdev.EvType) bool {
	return d.ev != nil && d.ev.Bit(int(t)) == 1
}

// HasKey reports whether the device has key code.
func (d InputDevice) HasKey(code evdev.EvCode) bool {
	return d.key != nil && d.key.Bit(int(code)) == 1
}

// IsKeyboard reports whether the device has both KEY_A and KEY_ENTER, which
// sets real keyboards apart from power buttons and media remotes.
func (d InputDevice) IsKeyboard() bool {
	return d.HasEvent(evdev.EV_KEY) && d.HasKey(evdev.KEY_A) && d.HasKey(evdev.KEY_ENTER)
}

// ParseInputDevices reads the /proc/bus/input/devices format. Devices
// without an event handler are skipped.
func ParseInputDevices(r io.Reader) ([]InputDevice, error) {
	var (
		devices []InputDevice
		cur     InputDevice
		started bool
	)
	flush := func() {
		if started && cur.Event() != "" {
			devices = append(devices, cur)
		}
		cur = InputDevice{}
		started = false
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		if len(line) < 3 || line[1] != ':' {
			continue
		}
		started = true
		value := strings.TrimSpace(line[2:])

		switch line[0] {
		case 'N':
			name := strings.TrimPrefix(value, "Name=")
			cur.Name = strings.Trim(name, `"`)
		case 'H':
			cur.Handlers = strings.Fields(strings.TrimPrefix(value, "Handlers="))
		case 'B':
			kind, mask, ok := strings.Cut(value, "=")
			if !ok {
				continue
			}
			bits, err := parseBitmap(mask)
			if err != nil {
				return nil, fmt.Errorf("%s bitmap of %q: %w", kind, cur.Name, err)
			}
			switch kind {
			case "EV":
				cur.ev = bits
			case "KEY":
				cur.key = bits
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	flush()
	return devices, nil
}

// longDigits is the hex width of a kernel long on this platform.
var longDigits = strconv.IntSize / 4

// parseBitmap parses a kernel bitmap: space separated hex words, most
// significant first, each word the width of a long.
func parseBitmap(s string) (*big.Int, error) {
	return parseBitmapWords(s, longDigits)
}

// parseBitmapWords parses a bitmap whose words are digits hex digits wide.
// A word wider than that means a 64-bit kernel under a 32-bit build.
func parseBitmapWords(s string, digits int) (*big.Int, error) {
	words := strings.Fields(s)
	if len(words) == 0 {
		return new(big.Int), nil
	}
	for _, w := range words {
		if len(w) > 16 {
			return nil, fmt.Errorf("word %q too wide", w)
		}
		if len(w) > digits {
			digits = 16
		}
	}

	var b strings.Builder
	for i, w := range words {
		if i > 0 {
			b.WriteString(strings.Repeat("0", digits-len(w)))
		}
		b.WriteString(w)
	}
	n, ok := new(big.Int).SetString(b.String(), 16)
	if !ok {
		return nil, fmt.Errorf("invalid bitmap %q", s)
	}
	return n, nil
}

// DeviceSink is told about matching devices appearing and disappearing.
// *manager.Manager satisfies it.
type DeviceSink interface {
	DeviceMatched(path, name string)
	DeviceTerminated(path string)
}

// Discovery finds matching input devices at start and follows hotplug under
// /dev/input.
type Discovery struct {
	cfg    DeviceConfig
	sink   DeviceSink
	logger *slog.Logger

	procPath string
	devDir   string
}

// NewDiscovery creates a Discovery reporting to sink.
func NewDiscovery(cfg DeviceConfig, sink DeviceSink, logger *slog.Logger) *Discovery {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discovery{
		cfg:      cfg,
		sink:     sink,
		logger:   logger,
		procPath: procInputDevices,
		devDir:   devInputDir,
	}
}

// Matches reports whether d should be observed.
func (s *Discovery) Matches(d InputDevice) bool {
	if slices.Contains(s.cfg.Ignore, d.Name) {
		return false
	}
	if s.cfg.Match == "all" {
		return true
	}
	return d.IsKeyboard()
}

// Scan reports every currently present matching device and returns how many
// were reported.
func (s *Discovery) Scan() (int, error) {
	devices, err := s.list()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, d := range devices {
		if !s.Matches(d) {
			continue
		}
		s.sink.DeviceMatched(filepath.Join(s.devDir, d.Event()), d.Name)
		n++
	}
	return n, nil
}

// Run follows device nodes appearing and disappearing until ctx is done.
func (s *Discovery) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.devDir); err != nil {
		return fmt.Errorf("watch %s: %w", s.devDir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			s.handle(ev)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("device watcher error", "error", err)
		}
	}
}

func (s *Discovery) handle(ev fsnotify.Event) {
	base := filepath.Base(ev.Name)
	if !strings.HasPrefix(base, "event") {
		return
	}

	switch {
	case ev.Has(fsnotify.Create):
		devices, err := s.list()
		if err != nil {
			s.logger.Error("list input devices", "error", err)
			return
		}
		for _, d := range devices {
			if d.Event() != base {
				continue
			}
			if s.Matches(d) {
				s.sink.DeviceMatched(ev.Name, d.Name)
			} else {
				s.logger.Debug("device ignored", "path", ev.Name, "device", d.Name)
			}
			return
		}
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		s.sink.DeviceTerminated(ev.Name)
	}
}

func (s *Discovery) list() ([]InputDevice, error) {
	f, err := os.Open(s.procPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseInputDevices(f)
}
