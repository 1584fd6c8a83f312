package main

import (
	"testing"

	evdev "github.com/holoplot/go-evdev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKeyName(t *testing.T) {
	tests := []struct {
		name string
		want evdev.EvCode
	}{
		{"capslock", evdev.KEY_CAPSLOCK},
		{"KEY_CAPSLOCK", evdev.KEY_CAPSLOCK},
		{" CapsLock ", evdev.KEY_CAPSLOCK},
		{"caps", evdev.KEY_CAPSLOCK},
		{"ctrl", evdev.KEY_LEFTCTRL},
		{"rightalt", evdev.KEY_RIGHTALT},
		{"altgr", evdev.KEY_RIGHTALT},
		{"escape", evdev.KEY_ESC},
		{"a", evdev.KEY_A},
		{"f12", evdev.KEY_F12},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseKeyName(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseKeyNameUnknown(t *testing.T) {
	for _, name := range []string{"", "key_", "hyperdrive"} {
		_, err := ParseKeyName(name)
		assert.Error(t, err, name)
	}
}

func TestParseRemap(t *testing.T) {
	table, err := ParseRemap(map[string]string{
		"capslock": "leftctrl",
		"esc":      "grave",
	})
	require.NoError(t, err)

	assert.Equal(t, RemapTable{
		evdev.KEY_CAPSLOCK: evdev.KEY_LEFTCTRL,
		evdev.KEY_ESC:      evdev.KEY_GRAVE,
	}, table)
	assert.Equal(t, evdev.EvCode(evdev.KEY_LEFTCTRL), table.Lookup(evdev.KEY_CAPSLOCK))
	assert.Equal(t, evdev.EvCode(evdev.KEY_A), table.Lookup(evdev.KEY_A), "unmapped keys pass through")
}

func TestParseRemapErrors(t *testing.T) {
	_, err := ParseRemap(map[string]string{"capslock": "nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capslock")

	_, err = ParseRemap(map[string]string{"caps": "esc", "capslock": "leftctrl"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "more than once")
}

func TestParseRemapEmpty(t *testing.T) {
	table, err := ParseRemap(nil)
	require.NoError(t, err)
	assert.Empty(t, table)
	assert.Equal(t, evdev.EvCode(evdev.KEY_Q), table.Lookup(evdev.KEY_Q))
}
