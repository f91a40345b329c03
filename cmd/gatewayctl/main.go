// Command gatewayctl is a small interactive helper for the OAuth State
// Machine (spec §4.7). It calls a running gatewayd's
// GET /{provider}/oauth and GET /{provider}/oauth/callback endpoints,
// opening the resulting auth_url in a browser and polling the device
// flow until it completes, so an operator can mint a new credential
// without hand-crafting curl calls.
//
// Grounded on the teacher's "-login"/"-codex-login" flag-driven modes in
// cmd/server/main.go, generalized from CLI-embedded login logic to an
// HTTP client against this gateway's own OAuth endpoints (the core's
// OAuth machine runs inside gatewayd, not inside this helper), plus
// skratchdot/open-golang for browser opening.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/skratchdot/open-golang/open"
)

func main() {
	var (
		gatewayAddr string
		provider    string
		adminKey    string
		noBrowser   bool
	)

	flag.StringVar(&gatewayAddr, "gateway", "http://127.0.0.1:8787", "base URL of a running gatewayd")
	flag.StringVar(&provider, "provider", "", "provider name to authorize (required)")
	flag.StringVar(&adminKey, "admin-key", "", "admin key, if the gateway requires one for oauth endpoints")
	flag.BoolVar(&noBrowser, "no-browser", false, "print the auth URL instead of opening a browser")
	flag.Parse()

	if provider == "" {
		fmt.Fprintln(os.Stderr, "gatewayctl: -provider is required")
		flag.Usage()
		os.Exit(2)
	}

	client := &http.Client{Timeout: 30 * time.Second}

	start, err := oauthStart(client, gatewayAddr, provider, adminKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gatewayctl: oauth start failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("mode=%s state=%s\n", start.Mode, start.State)
	if start.UserCode != "" {
		fmt.Printf("user code: %s\n", start.UserCode)
	}
	if start.AuthURL != "" {
		fmt.Printf("auth url: %s\n", start.AuthURL)
		if !noBrowser {
			if err := open.Run(start.AuthURL); err != nil {
				fmt.Fprintf(os.Stderr, "gatewayctl: failed to open browser, visit the URL above manually: %v\n", err)
			}
		}
	}

	if start.Mode == "device" {
		runDevicePoll(client, gatewayAddr, provider, start.State, adminKey)
		return
	}

	fmt.Println("after authorizing, paste the full redirect URL (or just the ?code= value):")
	var input string
	if _, err := fmt.Scanln(&input); err != nil {
		fmt.Fprintf(os.Stderr, "gatewayctl: failed to read callback input: %v\n", err)
		os.Exit(1)
	}
	code := extractCode(input)
	cred, err := oauthCallback(client, gatewayAddr, provider, start.State, code, adminKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gatewayctl: oauth callback failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("credential created: id=%d\n", cred.CredentialID)
}

type startResponse struct {
	Mode     string `json:"mode"`
	State    string `json:"state"`
	AuthURL  string `json:"auth_url"`
	UserCode string `json:"user_code"`
}

type callbackResponse struct {
	Status       string `json:"status"`
	CredentialID int64  `json:"credential_id"`
}

func oauthStart(client *http.Client, base, provider, adminKey string) (*startResponse, error) {
	req, err := http.NewRequest(http.MethodGet, base+"/"+provider+"/oauth", nil)
	if err != nil {
		return nil, err
	}
	applyAdminKey(req, adminKey)
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var out startResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func oauthCallback(client *http.Client, base, provider, state, code, adminKey string) (*callbackResponse, error) {
	q := url.Values{}
	if state != "" {
		q.Set("state", state)
	}
	if code != "" {
		q.Set("code", code)
	}
	req, err := http.NewRequest(http.MethodGet, base+"/"+provider+"/oauth/callback?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	applyAdminKey(req, adminKey)
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var out callbackResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// runDevicePoll repeatedly calls the callback endpoint until the upstream
// device flow grants a token. It polls at a fixed 5-second interval: the
// retry interval carried by a 409 authorization_pending response is not
// read, and any failed call, not only a pending one, leads to another poll.
func runDevicePoll(client *http.Client, base, provider, state, adminKey string) {
	interval := 5 * time.Second
	for {
		time.Sleep(interval)
		cred, err := oauthCallback(client, base, provider, state, "", adminKey)
		if err == nil {
			fmt.Printf("credential created: id=%d\n", cred.CredentialID)
			return
		}
		fmt.Printf("authorization pending, retrying in %s...\n", interval)
	}
}

func applyAdminKey(req *http.Request, adminKey string) {
	if adminKey != "" {
		req.Header.Set("x-admin-key", adminKey)
	}
}

// extractCode accepts either a bare authorization code or a full
// redirected callback URL and returns just the code, matching the
// manual-mode callback's own "?code= or ?callback_url=" acceptance rule
// (spec §4.7).
func extractCode(input string) string {
	if u, err := url.Parse(input); err == nil && u.Scheme != "" {
		if c := u.Query().Get("code"); c != "" {
			return c
		}
	}
	return input
}
