package storage

import (
	"path/filepath"
	"sort"
	"testing"

	"github.com/samvad-hq/samvad-feed-mailer/pkg/sources"
)

func TestBoltStoreKeepsSourcesApart(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewBackend("bbolt", filepath.Join(dir, "ids.db"))
	if err != nil {
		t.Fatalf("NewBackend bbolt: %v", err)
	}
	store := backend.(*boltStore)
	defer store.Close()

	blog := sources.Source{Name: "Blog"}
	news := sources.Source{Name: "News"}

	ids, err := store.LoadIDs(blog)
	if err != nil || len(ids) != 0 {
		t.Fatalf("expected empty bucket, ids=%v err=%v", ids, err)
	}

	if err := store.SaveIDs(blog, []string{"id1", "id2"}); err != nil {
		t.Fatalf("SaveIDs blog: %v", err)
	}
	if err := store.SaveIDs(news, []string{"n1"}); err != nil {
		t.Fatalf("SaveIDs news: %v", err)
	}

	got, err := store.LoadIDs(blog)
	if err != nil {
		t.Fatalf("LoadIDs blog: %v", err)
	}
	sort.Strings(got)
	if len(got) != 2 || got[0] != "id1" || got[1] != "id2" {
		t.Fatalf("unexpected blog ids %v", got)
	}

	got, err = store.LoadIDs(news)
	if err != nil || len(got) != 1 || got[0] != "n1" {
		t.Fatalf("unexpected news ids %v err=%v", got, err)
	}
}

func TestBoltStoreResaveIsIdempotent(t *testing.T) {
	backend, err := openBolt(filepath.Join(t.TempDir(), "ids.db"))
	if err != nil {
		t.Fatalf("openBolt: %v", err)
	}
	store := backend.(*boltStore)
	defer store.Close()

	src := sources.Source{Name: "Blog"}
	if err := store.SaveIDs(src, []string{"id1", ""}); err != nil {
		t.Fatalf("SaveIDs: %v", err)
	}
	if err := store.SaveIDs(src, []string{"id1", "id2"}); err != nil {
		t.Fatalf("SaveIDs again: %v", err)
	}

	got, err := store.LoadIDs(src)
	if err != nil {
		t.Fatalf("LoadIDs: %v", err)
	}
	sort.Strings(got)
	if len(got) != 2 || got[0] != "id1" || got[1] != "id2" {
		t.Fatalf("unexpected ids %v", got)
	}
}

func TestNewBackendSupportsNoop(t *testing.T) {
	backend, err := NewBackend("none", "")
	if err != nil {
		t.Fatalf("NewBackend none: %v", err)
	}
	if err := backend.SaveIDs(sources.Source{Name: "x"}, []string{"a"}); err != nil {
		t.Fatalf("noop SaveIDs: %v", err)
	}
	ids, err := backend.LoadIDs(sources.Source{Name: "x"})
	if err != nil || len(ids) != 0 {
		t.Fatalf("noop backend should not remember ids, got %v err=%v", ids, err)
	}
}

func TestNewBackendRejectsUnknownType(t *testing.T) {
	if _, err := NewBackend("redis", ""); err == nil {
		t.Fatal("expected unsupported storage type error")
	}
	if _, err := NewBackend("bbolt", " "); err == nil {
		t.Fatal("expected missing path error")
	}
}
