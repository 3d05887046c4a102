// Package apiclient implements the HTTP transport between the tomato client
// and its server: bearer-token auth, JSON request/response handling, and
// mapping of transport failures onto the apierr taxonomy.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/dtcooper/tomato/internal/apierr"
	"github.com/dtcooper/tomato/internal/platform/httpx"
	"github.com/dtcooper/tomato/internal/version"
)

// RequestTimeout is the per-call budget for any HTTP round trip.
const RequestTimeout = 10 * time.Second

// Client talks to the tomato server. It holds no state beyond connection
// config; the bearer token is supplied by the caller on each request so
// Auth/Sync/LogShipper can share one Client without racing on token updates.
type Client struct {
	httpClient *http.Client
	protocol   string
	hostname   string
}

// New returns a Client configured for the given protocol ("http"/"https")
// and hostname. It does not validate reachability.
func New(protocol, hostname string) *Client {
	return &Client{
		httpClient: httpx.NewClient(RequestTimeout),
		protocol:   protocol,
		hostname:   hostname,
	}
}

// Result is the outcome of a Do call. A non-nil Err means the call failed
// before or in decoding a usable response; with a nil Err, Body holds the
// decoded JSON, or is nil when the 200 response had an empty body. Valid
// mirrors the source's make_request() "valid" flag.
type Result struct {
	Status int
	Body   map[string]any
	Err    *apierr.Error
	Valid  bool
}

// Do issues method against endpoint (no leading slash) with the given bearer
// token (empty to omit), url-encoded form values, and JSON body (mutually
// exclusive with form; pass nil for one or the other). It never returns a Go
// error — transport and decode failures are folded into Result.Err, matching
// the single "guaranteed keys: error, status, valid" contract callers rely
// on instead of a second error-handling path.
func (c *Client) Do(ctx context.Context, method, endpoint, token string, form url.Values, jsonBody any) Result {
	if c.hostname == "" {
		return Result{Err: apierr.New(apierr.KindNoHostname, "", nil)}
	}

	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	reqURL := fmt.Sprintf("%s://%s/%s", c.protocol, c.hostname, endpoint)

	var body io.Reader
	contentType := ""
	if form != nil {
		body = bytes.NewBufferString(form.Encode())
		contentType = "application/x-www-form-urlencoded"
	} else if jsonBody != nil {
		encoded, err := json.Marshal(jsonBody)
		if err != nil {
			return Result{Err: apierr.New(apierr.KindRequestsError, "encoding request body", err)}
		}
		body = bytes.NewReader(encoded)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return Result{Err: apierr.New(apierr.KindRequestsError, "building request", err)}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("User-Agent", fmt.Sprintf("tomato-client/%s (+https://github.com/dtcooper/tomato)", version.Version))
	if token != "" {
		req.Header.Set("X-Auth-Token", token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		kind := apierr.KindRequestsError
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			kind = apierr.KindRequestsTimeout
		}
		return Result{Err: apierr.New(kind, "timeout or bad response from host", err)}
	}
	defer resp.Body.Close()

	result := Result{Status: resp.StatusCode}

	if resp.StatusCode != http.StatusOK {
		kind := apierr.KindInvalidHTTPStatus
		if resp.StatusCode == http.StatusForbidden {
			kind = apierr.KindAccessDenied
		}
		result.Err = apierr.New(kind, fmt.Sprintf("server returned status %d", resp.StatusCode), nil)
		return result
	}

	decoded := map[string]any{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		if errors.Is(err, io.EOF) {
			// §6: /log's 200 response body is documented empty. A bodyless
			// 200 is a successful call, not a decode failure.
			result.Valid = true
			return result
		}
		result.Err = apierr.New(apierr.KindJSONDecodeError, "invalid response format from host", err)
		return result
	}

	result.Body = decoded
	result.Valid = true
	return result
}
