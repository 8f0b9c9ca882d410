package tunnel

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// persistedState is the unit written to the tunnel state file. It is
// reloaded at construction so a previously obtained claim URL or tunnel
// address survives a supervisor restart.
type persistedState struct {
	State             State     `json:"state"`
	ClaimURL          string    `json:"claim_url,omitempty"`
	TunnelAddress     string    `json:"tunnel_address,omitempty"`
	ReconnectAttempts int       `json:"reconnect_attempts"`
	LastUpdate        time.Time `json:"last_update"`
}

// saveStateFile writes the state atomically: whole file to a temp path,
// then rename over the target.
func saveStateFile(path string, ps persistedState) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	data, err := json.MarshalIndent(ps, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// loadStateFile reads a previously persisted state. Absence or
// malformed content is reported as ok=false, never as an error.
func loadStateFile(path string) (persistedState, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return persistedState{}, false
	}
	var ps persistedState
	if err := json.Unmarshal(data, &ps); err != nil {
		return persistedState{}, false
	}
	return ps, true
}
