// Package state persists what the command line remembers between runs:
// the last used device, the recent recipients and the service channels
// learned for each device.
package state

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/agardelein/textoter/api/bluetooth"
)

// MaxHistory is the number of recipients kept in the history.
const MaxHistory = 10

// maxChannel is the highest RFCOMM channel.
const maxChannel = 30

// State holds the remembered values.
type State struct {
	Device   string                      `toml:"device"`
	History  []string                    `toml:"history"`
	Channels map[string]map[string]uint8 `toml:"channels"`
}

// DefaultPath returns the path of the state file in the user configuration directory.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}

	return filepath.Join(dir, "textoter", "state.toml")
}

// Load reads the state file at path. A missing file yields an empty state.
func Load(path string) (*State, error) {
	s := &State{}

	meta, err := toml.DecodeFile(path, s)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}

		return nil, fmt.Errorf("load state: %w", err)
	}

	if meta.IsDefined("device") {
		s.Device = strings.TrimSpace(s.Device)
	}
	if meta.IsDefined("history") {
		s.History = normalizeHistory(s.History)
	}
	if meta.IsDefined("channels") {
		s.Channels = validChannels(s.Channels)
	}

	return s, nil
}

// Save writes the state file at path, creating its directory if needed.
func (s *State) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("save state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".state-*.toml")
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := toml.NewEncoder(tmp).Encode(s); err != nil {
		tmp.Close()
		return fmt.Errorf("encode state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save state: %w", err)
	}

	return os.Rename(tmp.Name(), path)
}

// Remember moves number to the top of the history.
func (s *State) Remember(number string) {
	number = strings.TrimSpace(number)
	if number == "" {
		return
	}

	history := make([]string, 0, len(s.History)+1)
	history = append(history, number)
	for _, n := range s.History {
		if n != number {
			history = append(history, n)
		}
	}

	s.History = normalizeHistory(history)
}

// Channel returns the remembered channel of a service on a device.
func (s *State) Channel(address, target string) (uint8, bool) {
	channels, ok := s.Channels[address]
	if !ok {
		return 0, false
	}

	ch, ok := channels[target]

	return ch, ok
}

// SetChannel remembers the channel of a service on a device.
func (s *State) SetChannel(address, target string, channel uint8) {
	if s.Channels == nil {
		s.Channels = make(map[string]map[string]uint8)
	}
	if s.Channels[address] == nil {
		s.Channels[address] = make(map[string]uint8)
	}

	s.Channels[address][target] = channel
}

// ForgetChannel removes the remembered channel of a service on a device.
func (s *State) ForgetChannel(address, target string) {
	delete(s.Channels[address], target)
	if len(s.Channels[address]) == 0 {
		delete(s.Channels, address)
	}
}

func normalizeHistory(in []string) []string {
	out := make([]string, 0, len(in))
	for _, n := range in {
		n = strings.TrimSpace(n)
		if n == "" || slices.Contains(out, n) {
			continue
		}

		out = append(out, n)
		if len(out) == MaxHistory {
			break
		}
	}

	return out
}

// validChannels drops the channels of unknown services and out of range channels.
func validChannels(in map[string]map[string]uint8) map[string]map[string]uint8 {
	out := make(map[string]map[string]uint8, len(in))
	for address, channels := range in {
		for service, ch := range channels {
			if _, ok := bluetooth.CapabilityByName(service); !ok || ch == 0 || ch > maxChannel {
				continue
			}

			if out[address] == nil {
				out[address] = make(map[string]uint8)
			}
			out[address][service] = ch
		}
	}

	return out
}
