package tunnel

// State is the lifecycle phase of the managed tunnel agent.
type State string

const (
	StateStopped      State = "stopped"
	StateStarting     State = "starting"
	StateWaitingClaim State = "waiting_claim" // agent up, operator must open the claim URL
	StateConnecting   State = "connecting"    // agent up and previously authorized, waiting for the connect signature
	StateConnected    State = "connected"
	StateError        State = "error"
	StateReconnecting State = "reconnecting"
)

// Status is the inspectable snapshot returned by Manager.Status.
type Status struct {
	State             State  `json:"state"`
	Running           bool   `json:"running"`
	ClaimURL          string `json:"claim_url,omitempty"`
	TunnelAddress     string `json:"tunnel_address,omitempty"`
	ReconnectAttempts int    `json:"reconnect_attempts"`
	HealthActive      bool   `json:"health_active"`
	PID               int    `json:"pid,omitempty"`
}
