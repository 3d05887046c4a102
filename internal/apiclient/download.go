package apiclient

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/dtcooper/tomato/internal/apierr"
	"github.com/dtcooper/tomato/internal/version"
)

// downloadResponseHeaderTimeout bounds how long we wait for a server to
// start responding; unlike RequestTimeout it does not bound the body read,
// since asset files can be large and slow links shouldn't abort mid-byte.
const downloadResponseHeaderTimeout = 10 * time.Second

var downloadClient = &http.Client{
	Transport: &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		ResponseHeaderTimeout: downloadResponseHeaderTimeout,
		IdleConnTimeout:       30 * time.Second,
	},
}

// Download issues a GET against the given absolute URL (the sync engine
// joins media_url with an asset's relative path to build it) and returns the
// response body for the caller to stream to disk, plus the declared
// Content-Length (-1 if absent). The caller must close the returned
// ReadCloser. Cancellation is entirely ctx-driven: pass a ctx scoped to the
// whole sync pass, not RequestTimeout, so large files aren't cut off.
func Download(ctx context.Context, absoluteURL, token string) (io.ReadCloser, int64, *apierr.Error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, absoluteURL, nil)
	if err != nil {
		return nil, 0, apierr.New(apierr.KindRequestsError, "building download request", err)
	}
	req.Header.Set("User-Agent", fmt.Sprintf("tomato-client/%s (+https://github.com/dtcooper/tomato)", version.Version))
	if token != "" {
		req.Header.Set("X-Auth-Token", token)
	}

	resp, err := downloadClient.Do(req)
	if err != nil {
		kind := apierr.KindRequestsError
		if ctx.Err() != nil {
			kind = apierr.KindRequestsTimeout
		}
		return nil, 0, apierr.New(kind, "downloading asset", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		kind := apierr.KindInvalidHTTPStatus
		if resp.StatusCode == http.StatusForbidden {
			kind = apierr.KindAccessDenied
		}
		return nil, 0, apierr.New(kind, fmt.Sprintf("server returned status %d for download", resp.StatusCode), nil)
	}

	return resp.Body, resp.ContentLength, nil
}
