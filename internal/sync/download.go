package sync

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/google/renameio/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/dtcooper/tomato/internal/apierr"
	"github.com/dtcooper/tomato/internal/catalog"
	"github.com/dtcooper/tomato/internal/fsutil"
)

// planDownloads resolves each asset's absolute download URL and local
// destination, confining the destination under MediaDir via fsutil so a
// malicious or malformed relative path from the server can't escape the
// media root (adapted from the teacher's path-confinement guard, previously
// used for OpenWebIF-served icon paths).
func (e *Engine) planDownloads(assets []catalog.Asset, mediaURL string) ([]plannedAsset, error) {
	base, err := url.Parse(mediaURL)
	if err != nil {
		return nil, fmt.Errorf("sync: invalid media_url %q: %w", mediaURL, err)
	}

	planned := make([]plannedAsset, 0, len(assets))
	for _, a := range assets {
		dest, err := fsutil.ConfineRelPath(e.deps.MediaDir, a.AudioRelPath)
		if err != nil {
			return nil, fmt.Errorf("sync: asset %d path %q: %w", a.ID, a.AudioRelPath, err)
		}

		assetURL := base.ResolveReference(&url.URL{Path: a.AudioRelPath})
		planned = append(planned, plannedAsset{asset: a, url: assetURL.String(), dest: dest})

		if !needsDownload(dest, a.AudioSize) {
			planned[len(planned)-1].skip = true
		}
	}

	return planned, nil
}

type plannedAsset struct {
	asset catalog.Asset
	url   string
	dest  string
	skip  bool
}

// needsDownload reports whether the local file is missing or its size
// disagrees with the server-declared audio_size (§4.2 step 4).
func needsDownload(path string, wantSize int64) bool {
	info, err := os.Stat(path)
	if err != nil {
		return true
	}
	return info.Size() != wantSize
}

// downloadAll runs the download phase: a bounded-parallel errgroup, each
// member rate-limited against a shared bandwidth budget, writing to a temp
// file in the destination directory and atomically renaming into place
// (§4.2 "never make a row visible without first having the file"). Any
// single failure aborts the whole group. A failed download's partially
// written temp file is removed, not left in place; its destination stays
// missing, so the next sync's needsDownload check downloads it again.
func (e *Engine) downloadAll(ctx context.Context, planned []plannedAsset, token string, onProgress ProgressFunc) (int, error) {
	total := 0
	for _, p := range planned {
		if !p.skip {
			total++
		}
	}
	if total == 0 {
		onProgress(99)
		return 0, nil
	}

	limiter := rate.NewLimiter(rate.Limit(e.deps.BandwidthLimitBytesPerSec), e.deps.BandwidthLimitBytesPerSec)

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(e.deps.Parallelism)

	var done atomic.Int64
	for _, p := range planned {
		if p.skip {
			continue
		}
		group.Go(func() error {
			if err := e.downloadOne(gctx, p, token, limiter); err != nil {
				return err
			}
			n := done.Add(1)
			onProgress(3 + int(96*n/int64(total)))
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return int(done.Load()), err
	}
	return int(done.Load()), nil
}

func (e *Engine) downloadOne(ctx context.Context, p plannedAsset, token string, limiter *rate.Limiter) error {
	body, _, apiErr := e.deps.Download(ctx, p.url, token)
	if apiErr != nil {
		return fmt.Errorf("asset %d (%s): %w", p.asset.ID, p.asset.Name, apiErr)
	}
	defer body.Close()

	if err := os.MkdirAll(filepath.Dir(p.dest), 0o755); err != nil {
		return apierr.New(apierr.KindDiskFull, fmt.Sprintf("creating media directory for asset %d", p.asset.ID), err)
	}

	pending, err := renameio.NewPendingFile(p.dest)
	if err != nil {
		return apierr.New(apierr.KindDiskFull, fmt.Sprintf("creating pending file for asset %d", p.asset.ID), err)
	}
	defer pending.Cleanup()

	limited := &rateLimitedReader{ctx: ctx, r: body, limiter: limiter}
	if _, err := io.Copy(pending, limited); err != nil {
		return apierr.New(apierr.KindDiskFull, fmt.Sprintf("writing asset %d", p.asset.ID), err)
	}

	if err := pending.CloseAtomicallyReplace(); err != nil {
		return apierr.New(apierr.KindDiskFull, fmt.Sprintf("committing asset %d", p.asset.ID), err)
	}
	return nil
}

// rateLimitedReader throttles aggregate download throughput so sync doesn't
// starve playout I/O, waiting on a shared token bucket before each chunk.
type rateLimitedReader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}

func (r *rateLimitedReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		if werr := r.limiter.WaitN(r.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}
