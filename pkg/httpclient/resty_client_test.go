package httpclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRestyClientGetSendsHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); got != "test-agent" {
			t.Errorf("expected user agent header, got %q", got)
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte("<rss/>"))
	}))
	defer srv.Close()

	c := NewRestyClient(5 * time.Second)
	resp, err := c.Get(context.Background(), srv.URL, map[string]string{"User-Agent": "test-agent"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if resp.StatusCode() != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode())
	}
	if string(resp.Body()) != "<rss/>" {
		t.Fatalf("unexpected body %q", resp.Body())
	}
	if ct := resp.Header().Get("Content-Type"); ct != "application/rss+xml" {
		t.Fatalf("unexpected content type %q", ct)
	}
}

func TestRestyClientStreamLeavesBodyUnread(t *testing.T) {
	payload := []byte{0x89, 'P', 'N', 'G', 0, 0, 0, 0}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Content-Length", "8")
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	c := NewRestyClient(5 * time.Second)
	resp, err := c.Stream(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	body := resp.Body()
	defer body.Close()

	if resp.ContentLength() != int64(len(payload)) {
		t.Fatalf("expected content length %d, got %d", len(payload), resp.ContentLength())
	}
	if ct := resp.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("unexpected content type %q", ct)
	}
	got, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("unexpected body %v", got)
	}
}
