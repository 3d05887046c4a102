// Package auth holds the signed bearer token, probes the server for its
// validity, and persists auth state through localconfig. It is the single
// source of truth other components (Sync Engine, Log Shipper) consult for
// the current token and hostname.
package auth

import (
	"context"
	"net/url"
	"sync"

	"github.com/dtcooper/tomato/internal/apiclient"
	"github.com/dtcooper/tomato/internal/apierr"
	"github.com/dtcooper/tomato/internal/localconfig"
)

// Auth owns the client's connection identity: protocol, hostname, and
// bearer token. All state changes go through Login/Logout so localconfig
// stays in sync with the in-memory view.
type Auth struct {
	cfg *localconfig.Store

	mu       sync.RWMutex
	client   *apiclient.Client
	protocol string
	hostname string
	token    string
}

// New restores Auth state from cfg's persisted protocol/hostname/token.
func New(cfg *localconfig.Store) *Auth {
	data := cfg.Get()
	a := &Auth{
		cfg:      cfg,
		protocol: data.Protocol,
		hostname: data.Hostname,
		token:    data.AuthToken,
	}
	a.client = apiclient.New(data.Protocol, data.Hostname)
	return a
}

// Token returns the current bearer token, or "" if logged out.
func (a *Auth) Token() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.token
}

// Client returns the apiclient configured for the current hostname.
func (a *Auth) Client() *apiclient.Client {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.client
}

// Login authenticates against protocol://hostname and, on success, persists
// the returned token. Grounded on the source's make_request('post', 'auth',
// data={'username': ..., 'password': ...}).
func (a *Auth) Login(ctx context.Context, protocol, hostname, username, password string) *apierr.Error {
	if hostname == "" {
		return apierr.New(apierr.KindNoHostname, "", nil)
	}
	if username == "" || password == "" {
		return apierr.New(apierr.KindNoCredentials, "", nil)
	}

	client := apiclient.New(protocol, hostname)
	form := url.Values{"username": {username}, "password": {password}}
	result := client.Do(ctx, "POST", "auth", "", form, nil)
	if result.Err != nil {
		return result.Err
	}

	token, _ := result.Body["auth_token"].(string)
	if token == "" {
		return apierr.New(apierr.KindJSONDecodeError, "response missing auth_token", nil)
	}

	a.mu.Lock()
	a.protocol = protocol
	a.hostname = hostname
	a.token = token
	a.client = client
	a.mu.Unlock()

	if err := a.cfg.Update(func(d *localconfig.Data) {
		d.Protocol = protocol
		d.Hostname = hostname
		d.AuthToken = token
	}); err != nil {
		return apierr.New(apierr.KindStoreUnavailable, "", err)
	}
	return nil
}

// Status is the result of CheckAuthorization.
type Status struct {
	LoggedIn  bool
	Connected bool
	HasSynced bool
}

// CheckAuthorization probes /ping when a token is present. Grounded on the
// source's check_authorization: a reachable server with an invalid token
// means logged out; an unreachable server falls back to "logged in" so the
// operator can keep playing out from the last synced catalog.
func (a *Auth) CheckAuthorization(ctx context.Context) Status {
	a.mu.RLock()
	client := a.client
	token := a.token
	hostname := a.hostname
	a.mu.RUnlock()

	if hostname == "" || token == "" {
		return Status{}
	}

	data := a.cfg.Get()
	status := Status{HasSynced: !data.LastSync.IsZero()}

	result := client.Do(ctx, "GET", "ping", token, nil, nil)
	status.Connected = result.Status != 0

	if valid, ok := result.Body["valid_token"].(bool); ok {
		status.LoggedIn = valid
	} else {
		// No usable response (offline): assume still logged in so playout
		// continues against the last synced catalog.
		status.LoggedIn = !status.Connected
	}

	return status
}

// Logout clears the token and invokes cleanup (the Catalog Store's orphan
// audio file sweep), which per the design is bound to logout rather than
// sync so an in-flight Playout Controller is never starved of a file it's
// streaming.
func (a *Auth) Logout(cleanup func() error) error {
	a.mu.Lock()
	a.token = ""
	a.client = apiclient.New(a.protocol, a.hostname)
	a.mu.Unlock()

	if err := a.cfg.Update(func(d *localconfig.Data) {
		d.AuthToken = ""
	}); err != nil {
		return err
	}

	if cleanup != nil {
		return cleanup()
	}
	return nil
}
