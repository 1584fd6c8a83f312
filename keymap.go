package main

import (
	"fmt"
	"sort"
	"strings"

	evdev "github.com/holoplot/go-evdev"
)

// keyAliases maps short names accepted in config.yml to evdev key names.
var keyAliases = map[string]string{
	"ctrl":      "leftctrl",
	"control":   "leftctrl",
	"lctrl":     "leftctrl",
	"rctrl":     "rightctrl",
	"shift":     "leftshift",
	"lshift":    "leftshift",
	"rshift":    "rightshift",
	"alt":       "leftalt",
	"lalt":      "leftalt",
	"ralt":      "rightalt",
	"altgr":     "rightalt",
	"meta":      "leftmeta",
	"super":     "leftmeta",
	"win":       "leftmeta",
	"cmd":       "leftmeta",
	"caps":      "capslock",
	"escape":    "esc",
	"return":    "enter",
	"del":       "delete",
	"ins":       "insert",
	"pgup":      "pageup",
	"pgdn":      "pagedown",
	"bksp":      "backspace",
	"printscr":  "sysrq",
	"backquote": "grave",
}

// ParseKeyName resolves a key name such as "capslock", "KEY_CAPSLOCK" or
// "ctrl" to its evdev key code.
func ParseKeyName(name string) (evdev.EvCode, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.TrimPrefix(n, "key_")
	if n == "" {
		return 0, fmt.Errorf("empty key name")
	}
	if alias, ok := keyAliases[n]; ok {
		n = alias
	}

	code, ok := evdev.KEYFromString["KEY_"+strings.ToUpper(n)]
	if !ok {
		return 0, fmt.Errorf("unknown key %q", name)
	}
	return code, nil
}

// RemapTable maps source key codes to the key codes posted in their place.
type RemapTable map[evdev.EvCode]evdev.EvCode

// Lookup returns the replacement for code, or code itself.
func (t RemapTable) Lookup(code evdev.EvCode) evdev.EvCode {
	if to, ok := t[code]; ok {
		return to
	}
	return code
}

// ParseRemap resolves the remap section of config.yml. Errors are reported
// for keys in sorted order so messages are stable.
func ParseRemap(remap map[string]string) (RemapTable, error) {
	froms := make([]string, 0, len(remap))
	for from := range remap {
		froms = append(froms, from)
	}
	sort.Strings(froms)

	table := make(RemapTable, len(remap))
	for _, from := range froms {
		src, err := ParseKeyName(from)
		if err != nil {
			return nil, err
		}
		dst, err := ParseKeyName(remap[from])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", from, err)
		}
		if _, dup := table[src]; dup {
			return nil, fmt.Errorf("key %q is remapped more than once", from)
		}
		table[src] = dst
	}
	return table, nil
}
