package sync

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dtcooper/tomato/internal/apiclient"
	"github.com/dtcooper/tomato/internal/apierr"
	"github.com/dtcooper/tomato/internal/catalog"
)

type fakeRequester struct {
	result apiclient.Result
}

func (f *fakeRequester) Do(ctx context.Context, method, endpoint, token string, form url.Values, jsonBody any) apiclient.Result {
	return f.result
}

type fakeStore struct {
	applied *catalog.Snapshot
	err     error
}

func (f *fakeStore) UpsertSnapshot(ctx context.Context, snap catalog.Snapshot) error {
	if f.err != nil {
		return f.err
	}
	f.applied = &snap
	return nil
}

func nopDownload(content []byte) Downloader {
	return func(ctx context.Context, absoluteURL, token string) (io.ReadCloser, int64, *apierr.Error) {
		return io.NopCloser(bytes.NewReader(content)), int64(len(content)), nil
	}
}

func failingDownload(apiErr *apierr.Error) Downloader {
	return func(ctx context.Context, absoluteURL, token string) (io.ReadCloser, int64, *apierr.Error) {
		return nil, 0, apiErr
	}
}

func exportBody(t *testing.T) map[string]any {
	t.Helper()
	return decodeBody(t, `{
		"conf": {},
		"media_url": "https://example.test/media/",
		"objects": [
			{"kind": "rotator", "id": 1, "name": "IDs", "color": "blue"},
			{"kind": "stopset", "id": 10, "name": "Break", "weight": 1, "enabled": true},
			{"kind": "rotator_slot", "id": 100, "stopset_id": 10, "rotator_id": 1},
			{"kind": "asset", "id": 1000, "name": "id1", "duration_ms": 5000,
			 "audio_path": "assets/id1.mp3", "audio_size": 4, "weight": 1,
			 "enabled": true, "rotator_ids": [1]}
		]
	}`)
}

func TestRun_Success(t *testing.T) {
	mediaDir := t.TempDir()
	store := &fakeStore{}
	var progressed []int

	e := New(Deps{
		Client:   &fakeRequester{result: apiclient.Result{Valid: true, Body: exportBody(t)}},
		Download: nopDownload([]byte("data")),
		Store:    store,
		MediaDir: mediaDir,
		Clock:    time.Now,
	})

	result, err := e.Run(context.Background(), "tok", func(pct int) { progressed = append(progressed, pct) })
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.AssetsDownloaded != 1 {
		t.Errorf("expected 1 asset downloaded, got %d", result.AssetsDownloaded)
	}
	if store.applied == nil {
		t.Fatal("expected snapshot applied to store")
	}
	if len(progressed) == 0 || progressed[len(progressed)-1] != 100 {
		t.Errorf("expected progress to end at 100, got %v", progressed)
	}

	if _, err := os.Stat(filepath.Join(mediaDir, "assets", "id1.mp3")); err != nil {
		t.Errorf("expected asset file written: %v", err)
	}
}

func TestRun_ExportFailureAbortsBeforeCommit(t *testing.T) {
	store := &fakeStore{}
	e := New(Deps{
		Client:   &fakeRequester{result: apiclient.Result{Err: apierr.New(apierr.KindRequestsTimeout, "", nil)}},
		Download: nopDownload(nil),
		Store:    store,
		MediaDir: t.TempDir(),
	})

	_, err := e.Run(context.Background(), "tok", nil)
	if err == nil {
		t.Fatal("expected error on export failure")
	}
	if store.applied != nil {
		t.Error("expected no commit on export failure")
	}
}

func TestRun_DownloadFailureAbortsCommit(t *testing.T) {
	store := &fakeStore{}
	e := New(Deps{
		Client:   &fakeRequester{result: apiclient.Result{Valid: true, Body: exportBody(t)}},
		Download: failingDownload(apierr.New(apierr.KindRequestsError, "connection reset", nil)),
		Store:    store,
		MediaDir: t.TempDir(),
	})

	_, err := e.Run(context.Background(), "tok", nil)
	if err == nil {
		t.Fatal("expected error on download failure")
	}
	if store.applied != nil {
		t.Error("expected no commit when a download fails")
	}
}

func TestRun_SkipsAssetsAlreadyCorrectSize(t *testing.T) {
	mediaDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(mediaDir, "assets"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(mediaDir, "assets", "id1.mp3"), []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}

	calls := 0
	download := func(ctx context.Context, absoluteURL, token string) (io.ReadCloser, int64, *apierr.Error) {
		calls++
		return io.NopCloser(bytes.NewReader(nil)), 0, nil
	}

	e := New(Deps{
		Client:   &fakeRequester{result: apiclient.Result{Valid: true, Body: exportBody(t)}},
		Download: download,
		Store:    &fakeStore{},
		MediaDir: mediaDir,
	})

	result, err := e.Run(context.Background(), "tok", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls != 0 {
		t.Errorf("expected no downloads for up-to-date asset, got %d calls", calls)
	}
	if result.AssetsDownloaded != 0 {
		t.Errorf("expected 0 downloaded, got %d", result.AssetsDownloaded)
	}
}

func TestRun_StoreFailureSurfacesAsStoreUnavailable(t *testing.T) {
	e := New(Deps{
		Client:   &fakeRequester{result: apiclient.Result{Valid: true, Body: exportBody(t)}},
		Download: nopDownload([]byte("data")),
		Store:    &fakeStore{err: errors.New("disk error")},
		MediaDir: t.TempDir(),
	})

	_, err := e.Run(context.Background(), "tok", nil)
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) || apiErr.Kind != apierr.KindStoreUnavailable {
		t.Fatalf("expected KindStoreUnavailable, got %v", err)
	}
}
