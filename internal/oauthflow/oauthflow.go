// Package oauthflow implements the OAuth State Machine (spec §4.8,
// §6.1): a device-polling mode for Codex and a manual authorize/callback
// mode for Claude Code, Gemini CLI, and Antigravity, backed by a
// state-keyed pending map swept for expiry by a cron job.
//
// Grounded on the teacher's sdk/cliproxy/auth OAuth login flows (the
// login-mode dispatch in cmd/server/main.go and the per-provider OAuth
// helpers they call), generalized into one state machine shared by every
// manual-mode provider, plus robfig/cron/v3 for the TTL sweep (the
// scheduling library carried in from the flemzord-sclaw example repo).
package oauthflow

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/router-for-me/llmgateway/internal/config"
	"github.com/router-for-me/llmgateway/internal/gwerr"
)

// Mode distinguishes the two OAuth shapes from spec §4.8.
type Mode string

const (
	ModeDevice Mode = "device" // Codex: polls token endpoint, 409 authorization_pending until granted
	ModeManual Mode = "manual" // Claude Code, Gemini CLI, Antigravity: browser redirect + callback
)

// Pending is one in-flight authorization attempt.
type Pending struct {
	State        string
	Provider     string
	Mode         Mode
	AuthURL      string
	DeviceCode   string
	UserCode     string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	PollInterval time.Duration
	// DeviceConfig is set for device-mode pending attempts so a later
	// /oauth/callback poll knows which upstream token endpoint to hit.
	DeviceConfig DeviceAuthConfig
	// Result, once non-nil, holds the completed token exchange; a
	// callback or a successful device poll sets this.
	Result *Result
}

// Result is the exchanged credential material handed back to the admin
// layer once an OAuth attempt resolves, which wraps it into a
// config.Credential (spec §4.8's "resolve to a credential" step).
type Result struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Expiry       time.Time
}

// TTL bounds how long a pending attempt is kept before the sweep evicts
// it, per spec §4.8's expiry requirement.
const TTL = 10 * time.Minute

// Machine tracks in-flight OAuth attempts across both modes.
type Machine struct {
	mu      sync.Mutex
	pending map[string]*Pending
	cron    *cron.Cron
}

// NewMachine constructs a Machine and starts its TTL sweep.
func NewMachine() *Machine {
	m := &Machine{pending: make(map[string]*Pending), cron: cron.New()}
	_, _ = m.cron.AddFunc("@every 1m", m.sweep)
	m.cron.Start()
	return m
}

// Stop halts the sweep cron.
func (m *Machine) Stop() { m.cron.Stop() }

func (m *Machine) sweep() {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for state, p := range m.pending {
		if now.After(p.ExpiresAt) {
			delete(m.pending, state)
			logrus.WithFields(logrus.Fields{"provider": p.Provider, "state": state}).Debug("oauth pending attempt expired")
		}
	}
}

// Start begins a new OAuth attempt for a provider kind, generating a
// fresh opaque state token (spec §4.8's state-keyed pending map).
func (m *Machine) Start(providerName string, kind config.ProviderKind, authURLTemplate func(state string) string) (*Pending, error) {
	state, err := randomState()
	if err != nil {
		return nil, gwerr.Wrap(gwerr.Unauthorized, err)
	}
	mode := ModeManual
	if kind == config.KindCodex {
		mode = ModeDevice
	}
	p := &Pending{
		State:        state,
		Provider:     providerName,
		Mode:         mode,
		CreatedAt:    time.Now(),
		ExpiresAt:    time.Now().Add(TTL),
		PollInterval: 5 * time.Second,
	}
	p.AuthURL = authURLTemplate(state)

	m.mu.Lock()
	m.pending[state] = p
	m.mu.Unlock()
	return p, nil
}

// StartDevice begins a device-mode OAuth attempt (Codex): it requests a
// device_code/user_code pair from the upstream provider before minting
// the pending entry, so a failure to reach the provider surfaces
// immediately rather than on the first poll.
func (m *Machine) StartDevice(ctx context.Context, client *http.Client, providerName string, cfg DeviceAuthConfig) (*Pending, error) {
	dc, err := RequestDeviceCode(ctx, client, cfg)
	if err != nil {
		return nil, err
	}
	state, err := randomState()
	if err != nil {
		return nil, gwerr.Wrap(gwerr.Unauthorized, err)
	}
	interval := time.Duration(dc.Interval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	expires := TTL
	if dc.ExpiresIn > 0 {
		expires = time.Duration(dc.ExpiresIn) * time.Second
	}
	p := &Pending{
		State:        state,
		Provider:     providerName,
		Mode:         ModeDevice,
		AuthURL:      dc.VerificationURIComplete,
		DeviceCode:   dc.DeviceCode,
		UserCode:     dc.UserCode,
		CreatedAt:    time.Now(),
		ExpiresAt:    time.Now().Add(expires),
		PollInterval: interval,
		DeviceConfig: cfg,
	}
	if p.AuthURL == "" {
		p.AuthURL = dc.VerificationURI
	}

	m.mu.Lock()
	m.pending[state] = p
	m.mu.Unlock()
	return p, nil
}

// PollDeviceUpstream makes one real poll attempt against the device
// provider's token endpoint and records the result on success, used by
// /oauth/callback for a device-mode pending attempt (spec §4.7 scenario
// 5). It returns the same AuthorizationPending error PollDevice would
// until the upstream grants the token.
func (m *Machine) PollDeviceUpstream(ctx context.Context, client *http.Client, state string) (*Result, error) {
	m.mu.Lock()
	p, ok := m.pending[state]
	m.mu.Unlock()
	if !ok {
		return nil, gwerr.New(gwerr.Unauthorized, "unknown or expired device authorization")
	}
	if p.Result != nil {
		return p.Result, nil
	}
	intervalSec := int(p.PollInterval.Seconds())
	if intervalSec <= 0 {
		intervalSec = 5
	}
	result, err := PollOnce(ctx, client, p.DeviceConfig, p.DeviceCode, intervalSec)
	if err != nil {
		return nil, err
	}
	m.Complete(state, *result)
	return result, nil
}

// Resolve implements spec §4.8's state resolution rules for the callback
// endpoint: an explicit state always wins; with no state, a single
// pending attempt for the provider auto-resolves; more than one pending
// attempt with no state supplied is ambiguous.
func (m *Machine) Resolve(providerName, state string) (*Pending, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if state != "" {
		p, ok := m.pending[state]
		if !ok {
			return nil, gwerr.New(gwerr.Unauthorized, "unknown or expired oauth state")
		}
		return p, nil
	}

	var matches []*Pending
	for _, p := range m.pending {
		if p.Provider == providerName {
			matches = append(matches, p)
		}
	}
	switch len(matches) {
	case 0:
		return nil, gwerr.New(gwerr.Unauthorized, "no pending oauth attempt for provider "+providerName)
	case 1:
		return matches[0], nil
	default:
		return nil, gwerr.New(gwerr.AmbiguousState, "multiple pending oauth attempts; state parameter required")
	}
}

// Complete records a resolved token exchange against a pending attempt.
// The entry is left in place (rather than deleted) so a client still
// polling or a delayed callback can observe the Result; the TTL sweep
// evicts it like any other pending entry.
func (m *Machine) Complete(state string, result Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pending[state]; ok {
		p.Result = &result
	}
}

// PollDevice reports the current status of a device-mode attempt
// (Codex): callers poll this until it returns a Result or an error other
// than AuthorizationPending.
func (m *Machine) PollDevice(state string) (*Result, error) {
	m.mu.Lock()
	p, ok := m.pending[state]
	m.mu.Unlock()
	if !ok {
		return nil, gwerr.New(gwerr.Unauthorized, "unknown or expired device authorization")
	}
	if p.Result != nil {
		return p.Result, nil
	}
	intervalSec := int(p.PollInterval.Seconds())
	if intervalSec <= 0 {
		intervalSec = 5
	}
	return nil, gwerr.New(gwerr.AuthorizationPending, "authorization_pending").WithRetry(intervalSec)
}

func randomState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
