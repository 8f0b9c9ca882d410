package tunnel

import (
	"regexp"
	"strings"
)

// EventKind identifies a structured fact extracted from agent output.
type EventKind int

const (
	// EventClaimURL means the agent printed a claim URL the operator
	// must open to authorize this tunnel instance.
	EventClaimURL EventKind = iota
	// EventConnected means the agent reported an established tunnel.
	EventConnected
)

// ScanEvent is one structured fact extracted from accumulated output.
type ScanEvent struct {
	Kind     EventKind
	ClaimURL string
	Address  string
}

// Extractor turns accumulated agent output into structured events.
// Extraction must be idempotent: re-running it over the same output
// yields the same events and never mutates anything.
type Extractor interface {
	Extract(output string) []ScanEvent
}

// PlayitExtractor recognizes the playit.gg agent's output. The provider
// domain is configurable so self-hosted or renamed deployments keep
// working without touching the state machine.
type PlayitExtractor struct {
	domain     string
	claimRe    *regexp.Regexp
	addrRe     *regexp.Regexp
	signatures []string
}

func NewPlayitExtractor(domain string) *PlayitExtractor {
	if domain == "" {
		domain = "playit.gg"
	}
	provider := domain
	if i := strings.IndexByte(provider, '.'); i > 0 {
		provider = provider[:i]
	}
	return &PlayitExtractor{
		domain:  domain,
		claimRe: regexp.MustCompile(`https://` + regexp.QuoteMeta(domain) + `/claim/[a-zA-Z0-9]+`),
		addrRe:  regexp.MustCompile(`tcp://[^\s]+`),
		signatures: []string{
			"agent connected",
			"tunnel established",
			"tcp://",
			"connected to " + provider,
		},
	}
}

func (e *PlayitExtractor) Extract(output string) []ScanEvent {
	var events []ScanEvent
	if url := e.findClaimURL(output); url != "" {
		events = append(events, ScanEvent{Kind: EventClaimURL, ClaimURL: url})
	}
	if ok, addr := e.findConnected(output); ok {
		events = append(events, ScanEvent{Kind: EventConnected, Address: addr})
	}
	return events
}

func (e *PlayitExtractor) findClaimURL(output string) string {
	if m := e.claimRe.FindString(output); m != "" {
		return m
	}
	// Fallback for interleaved or partially written lines: isolate lines
	// that mention both the claim keyword and the provider domain and
	// re-apply the pattern per line.
	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(strings.ToLower(line), "claim") && strings.Contains(line, e.domain) {
			if m := e.claimRe.FindString(line); m != "" {
				return m
			}
		}
	}
	return ""
}

func (e *PlayitExtractor) findConnected(output string) (bool, string) {
	lower := strings.ToLower(output)
	for _, sig := range e.signatures {
		if strings.Contains(lower, sig) {
			return true, e.addrRe.FindString(output)
		}
	}
	return false, ""
}
