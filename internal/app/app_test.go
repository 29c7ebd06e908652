package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/samvad-hq/samvad-feed-mailer/internal/config"
	"github.com/samvad-hq/samvad-feed-mailer/pkg/publishers"
)

var pngBody = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{1}, 64)...)

type recordingMailer struct {
	mu   sync.Mutex
	msgs [][]byte
}

func (m *recordingMailer) Send(_ context.Context, _ string, _ []string, msg []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, msg)
	return nil
}

func (m *recordingMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.msgs)
}

func feedServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/feed.xml", func(w http.ResponseWriter, r *http.Request) {
		base := "http://" + r.Host
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprintf(w, `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Blog</title><link>%[1]s/</link>
<item><guid>id1</guid><title>First</title><link>%[1]s/posts/1</link>
<description><![CDATA[<p>Hello</p><img src="/img/a.png">]]></description></item>
<item><guid>id2</guid><title>Second</title><link>%[1]s/posts/2</link>
<description>Plain body</description></item>
</channel></rss>`, base)
	})
	mux.HandleFunc("/img/a.png", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngBody)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeSources(t *testing.T, dir, feedURL string) string {
	t.Helper()
	raw := fmt.Sprintf(`
email_config:
  smtp_server: smtp.example.com
  smtp_port: 465
  sender_email: bot@example.com
  sender_password: secret
  receiver_email: me@example.com
rss_sources:
  - name: Blog
    url: %s
    interval_minutes: 1
    save_dir: %s
    txt_dir: %s
`, feedURL, filepath.Join(dir, "data", "Blog"), filepath.Join(dir, "rsspush"))
	path := filepath.Join(dir, "sources.yaml")
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write sources: %v", err)
	}
	return path
}

func testConfig(sourcesFile string) *config.Config {
	return &config.Config{
		AppName:         "feedmailer-test",
		SourcesFile:     sourcesFile,
		RunOnce:         true,
		StorageType:     "json",
		WorkerCount:     2,
		Tick:            10 * time.Millisecond,
		ShutdownTimeout: time.Second,
	}
}

func TestAppRunOnceDeliversNewEntries(t *testing.T) {
	dir := t.TempDir()
	srv := feedServer(t)
	cfg := testConfig(writeSources(t, dir, srv.URL+"/feed.xml"))
	mailer := &recordingMailer{}

	a, err := NewWithDependencies(context.Background(), cfg, nil, Dependencies{Mailer: mailer})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if mailer.count() != 1 {
		t.Fatalf("expected one email, got %d", mailer.count())
	}
	msg := string(mailer.msgs[0])
	if !strings.Contains(msg, "Feed update - Blog - 2 new entries") {
		t.Fatalf("message missing subject:\n%s", msg)
	}
	if !strings.Contains(msg, "image/png") {
		t.Fatalf("message missing inline image part")
	}

	raw, err := os.ReadFile(filepath.Join(dir, "data", "Blog", "Blog_processed_guids.json"))
	if err != nil {
		t.Fatalf("read cache: %v", err)
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		t.Fatalf("decode cache: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 persisted ids, got %v", ids)
	}
	digests, _ := filepath.Glob(filepath.Join(dir, "rsspush", "Blog_update_*.txt"))
	if len(digests) != 1 {
		t.Fatalf("expected one digest file, got %v", digests)
	}

	// A fresh runtime over the same cache sends nothing.
	again, err := NewWithDependencies(context.Background(), cfg, nil, Dependencies{Mailer: mailer})
	if err != nil {
		t.Fatalf("New (second): %v", err)
	}
	if err := again.Run(context.Background()); err != nil {
		t.Fatalf("Run (second): %v", err)
	}
	if mailer.count() != 1 {
		t.Fatalf("known entries were mailed again")
	}
}

func TestAppFansOutToPublishers(t *testing.T) {
	dir := t.TempDir()
	srv := feedServer(t)

	var mu sync.Mutex
	var events []publishers.Event
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt publishers.Event
		if err := json.NewDecoder(r.Body).Decode(&evt); err == nil {
			mu.Lock()
			events = append(events, evt)
			mu.Unlock()
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer hook.Close()

	pubPath := filepath.Join(dir, "publishers.yaml")
	pubRaw := fmt.Sprintf("publishers:\n  - id: hook\n    type: http\n    http:\n      url: %s\n", hook.URL)
	if err := os.WriteFile(pubPath, []byte(pubRaw), 0o644); err != nil {
		t.Fatalf("write publishers: %v", err)
	}

	cfg := testConfig(writeSources(t, dir, srv.URL+"/feed.xml"))
	cfg.PublishersFile = pubPath

	a, err := NewWithDependencies(context.Background(), cfg, nil, Dependencies{Mailer: &recordingMailer{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 || events[0].Source != "Blog" || events[0].EntryCount != 2 {
		t.Fatalf("unexpected fan-out events %+v", events)
	}
}

func TestNewFailsOnMissingSources(t *testing.T) {
	cfg := testConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if _, err := New(context.Background(), cfg, nil); err == nil {
		t.Fatalf("expected startup error for missing sources file")
	}
}

func TestNewRejectsNilConfig(t *testing.T) {
	if _, err := New(context.Background(), nil, nil); err == nil {
		t.Fatalf("expected error for nil config")
	}
}

func TestJobsReflectSources(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(writeSources(t, dir, "https://example.com/feed.xml"))
	a, err := NewWithDependencies(context.Background(), cfg, nil, Dependencies{Mailer: &recordingMailer{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	jobs := a.Jobs()
	if len(jobs) != 1 || jobs[0].Name != "Blog" || jobs[0].Interval != time.Minute {
		t.Fatalf("unexpected jobs %+v", jobs)
	}
	a.close()
}
