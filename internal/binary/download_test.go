package binary

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestDownloaderFetch(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		body       string
		wantErr    bool
	}{
		{name: "successful_download", statusCode: http.StatusOK, body: "test archive content"},
		{name: "non_200_success", statusCode: http.StatusNonAuthoritativeInfo, body: "partial"},
		{name: "404_not_found", statusCode: http.StatusNotFound, body: "not found", wantErr: true},
		{name: "500_server_error", statusCode: http.StatusInternalServerError, body: "server error", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if got := r.Header.Get("User-Agent"); got != "portable/test" {
					t.Errorf("unexpected User-Agent: %s", got)
				}
				w.WriteHeader(tt.statusCode)
				if _, err := w.Write([]byte(tt.body)); err != nil {
					t.Errorf("failed to write response: %v", err)
				}
			}))
			defer server.Close()

			downloader := NewDownloader(WithUserAgent("portable/test"))
			destPath := filepath.Join(t.TempDir(), "archive.zip")

			res, err := downloader.Fetch(context.Background(), server.URL, destPath)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error but got none")
				}
				// A failed fetch must not leave a file behind.
				if _, statErr := os.Stat(destPath); !os.IsNotExist(statErr) {
					t.Errorf("file exists after failed fetch: %v", statErr)
				}
				if _, statErr := os.Stat(destPath + ".tmp"); !os.IsNotExist(statErr) {
					t.Errorf("temp file left behind: %v", statErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			content, err := os.ReadFile(destPath)
			if err != nil {
				t.Fatalf("failed to read downloaded file: %v", err)
			}
			if string(content) != tt.body {
				t.Errorf("content = %q, want %q", content, tt.body)
			}
			if res.Size != int64(len(tt.body)) {
				t.Errorf("Size = %d, want %d", res.Size, len(tt.body))
			}
			if res.StatusCode != tt.statusCode {
				t.Errorf("StatusCode = %d, want %d", res.StatusCode, tt.statusCode)
			}
			if res.Attempts != 1 {
				t.Errorf("Attempts = %d, want 1", res.Attempts)
			}
		})
	}
}

func TestDownloaderFetchOverwrites(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("new"))
	}))
	defer server.Close()

	destPath := filepath.Join(t.TempDir(), "archive.zip")
	if err := os.WriteFile(destPath, []byte("old content that is longer"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := NewDownloader().Fetch(context.Background(), server.URL, destPath); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	content, _ := os.ReadFile(destPath)
	if string(content) != "new" {
		t.Errorf("content = %q, want %q", content, "new")
	}
}

func TestDownloaderFollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/final", http.StatusFound)
	})
	mux.HandleFunc("/final", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/zip")
		w.Write([]byte("payload"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	destPath := filepath.Join(t.TempDir(), "archive.zip")
	res, err := NewDownloader().Fetch(context.Background(), server.URL+"/start", destPath)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if !strings.HasSuffix(res.FinalURL, "/final") {
		t.Errorf("FinalURL = %q, want suffix /final", res.FinalURL)
	}
	if res.ContentType != "application/zip" {
		t.Errorf("ContentType = %q", res.ContentType)
	}
}

func TestDownloaderTooManyRedirects(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, r.URL.Path+"x", http.StatusFound)
	}))
	defer server.Close()

	destPath := filepath.Join(t.TempDir(), "archive.zip")
	if _, err := NewDownloader().Fetch(context.Background(), server.URL+"/r", destPath); err == nil {
		t.Fatal("expected redirect loop error")
	}
}

func TestWithHTTPClientKeepsRedirectCap(t *testing.T) {
	client := &http.Client{Timeout: time.Minute}
	d := NewDownloader(WithHTTPClient(client))

	if d.client.CheckRedirect == nil {
		t.Error("injected client has no redirect cap")
	}
	if d.client.Timeout != time.Minute {
		t.Errorf("Timeout = %v, want the injected client's", d.client.Timeout)
	}
	if client.CheckRedirect != nil {
		t.Error("caller's client was modified")
	}

	own := func(req *http.Request, via []*http.Request) error { return http.ErrUseLastResponse }
	d = NewDownloader(WithHTTPClient(&http.Client{CheckRedirect: own}))
	if err := d.client.CheckRedirect(nil, nil); !errors.Is(err, http.ErrUseLastResponse) {
		t.Errorf("caller's redirect policy replaced, got %v", err)
	}
}

func TestDownloaderBackoff(t *testing.T) {
	d := NewDownloader()
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{7, time.Minute},
		{40, time.Minute},
		{1000, time.Minute},
	}
	for _, tt := range tests {
		if got := d.backoffFor(tt.attempt); got != tt.want {
			t.Errorf("backoffFor(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}

	if got := NewDownloader(WithBackoff(5 * time.Minute)).backoffFor(1); got != time.Minute {
		t.Errorf("large base backoff = %v, want cap %v", got, time.Minute)
	}
}

func TestDownloaderRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("finally"))
	}))
	defer server.Close()

	downloader := NewDownloader(WithRetries(3), WithBackoff(time.Millisecond))
	destPath := filepath.Join(t.TempDir(), "archive.zip")

	res, err := downloader.Fetch(context.Background(), server.URL, destPath)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if res.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", res.Attempts)
	}
}

func TestDownloaderDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	downloader := NewDownloader(WithRetries(3), WithBackoff(time.Millisecond))
	destPath := filepath.Join(t.TempDir(), "archive.zip")

	if _, err := downloader.Fetch(context.Background(), server.URL, destPath); err == nil {
		t.Fatal("expected error for 404")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server called %d times, want 1", got)
	}
}

func TestDownloaderNoRetryByDefault(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	destPath := filepath.Join(t.TempDir(), "archive.zip")
	if _, err := NewDownloader().Fetch(context.Background(), server.URL, destPath); err == nil {
		t.Fatal("expected error")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server called %d times, want 1", got)
	}
}

func TestDownloaderContextCancellation(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	destPath := filepath.Join(t.TempDir(), "archive.zip")
	_, err := NewDownloader(WithRetries(5)).Fetch(ctx, server.URL, destPath)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want context.DeadlineExceeded", err)
	}
}

func TestDownloaderTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	destPath := filepath.Join(t.TempDir(), "archive.zip")
	_, err := NewDownloader(WithTimeout(50*time.Millisecond)).Fetch(context.Background(), server.URL, destPath)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want context.DeadlineExceeded", err)
	}
}

func TestDownloaderUnreachableHost(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	destPath := filepath.Join(t.TempDir(), "archive.zip")
	if _, err := NewDownloader().Fetch(context.Background(), url, destPath); err == nil {
		t.Fatal("expected connection error")
	}
	if _, err := os.Stat(destPath); !os.IsNotExist(err) {
		t.Errorf("file exists after failed fetch")
	}
}
