package maintenance

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/athenasql/athenasql/internal/storage"
	"github.com/athenasql/athenasql/internal/storage/local"
)

type fakeSweeper struct {
	mu        sync.Mutex
	idleTTLs  []time.Duration
	remaining int
	evict     int
}

func (f *fakeSweeper) Sweep(idleTTL time.Duration) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.idleTTLs = append(f.idleTTLs, idleTTL)
	evicted := f.evict
	f.remaining -= evicted
	f.evict = 0
	return evicted
}

func (f *fakeSweeper) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remaining
}

func (f *fakeSweeper) sweeps() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.idleTTLs)
}

func TestRunSweepOnce(t *testing.T) {
	sweeper := &fakeSweeper{remaining: 5, evict: 3}
	service := &Service{Conversations: sweeper, Config: Config{IdleTTL: time.Hour}}

	summary := service.RunSweepOnce(context.Background())
	if summary.Evicted != 3 || summary.Remaining != 2 {
		t.Fatalf("summary = %+v", summary)
	}
	if sweeper.idleTTLs[0] != time.Hour {
		t.Fatalf("idle ttl = %s", sweeper.idleTTLs[0])
	}
}

func TestRunSweepOnceAppliesDefaults(t *testing.T) {
	sweeper := &fakeSweeper{}
	service := &Service{Conversations: sweeper}
	service.RunSweepOnce(context.Background())
	if sweeper.idleTTLs[0] != 24*time.Hour {
		t.Fatalf("default idle ttl = %s", sweeper.idleTTLs[0])
	}
	if (&Service{}).RunSweepOnce(context.Background()) != (SweepSummary{}) {
		t.Fatal("service without sweeper should report an empty summary")
	}
}

func TestRunSweepsUntilCanceled(t *testing.T) {
	sweeper := &fakeSweeper{remaining: 1, evict: 1}
	service := &Service{Conversations: sweeper, Config: Config{SweepInterval: 5 * time.Millisecond, IdleTTL: time.Minute}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- service.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for sweeper.sweeps() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sweeper.sweeps() < 2 {
		t.Fatalf("sweeps = %d, want at least 2", sweeper.sweeps())
	}
}

func TestRunSweepOnceExpiresOldExports(t *testing.T) {
	root := t.TempDir()
	archive, err := local.New(root)
	if err != nil {
		t.Fatalf("local.New() error = %v", err)
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ages := map[string]time.Duration{
		"exports/date=2026-01-01/C1-r1-000001.csv":  60 * 24 * time.Hour,
		"exports/date=2026-02-27/C1-r2-000001.xlsx": 2 * 24 * time.Hour,
		"reports/old.csv":                           90 * 24 * time.Hour,
	}
	for key, age := range ages {
		if _, err := archive.Put(context.Background(), key, strings.NewReader("x"), 1, storage.PutOptions{}); err != nil {
			t.Fatalf("Put(%q) error = %v", key, err)
		}
		modified := now.Add(-age)
		if err := os.Chtimes(filepath.Join(root, filepath.FromSlash(key)), modified, modified); err != nil {
			t.Fatalf("Chtimes(%q) error = %v", key, err)
		}
	}

	service := &Service{
		Conversations: &fakeSweeper{},
		Exports:       archive,
		Config:        Config{ExportRetention: 30 * 24 * time.Hour},
		Clock:         func() time.Time { return now },
	}
	summary := service.RunSweepOnce(context.Background())
	if summary.ExportsDeleted != 1 {
		t.Fatalf("exports deleted = %d, want 1", summary.ExportsDeleted)
	}
	if _, err := archive.Stat(context.Background(), "exports/date=2026-01-01/C1-r1-000001.csv"); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("expired export still present: %v", err)
	}
	for _, kept := range []string{"exports/date=2026-02-27/C1-r2-000001.xlsx", "reports/old.csv"} {
		if _, err := archive.Stat(context.Background(), kept); err != nil {
			t.Fatalf("Stat(%q) error = %v", kept, err)
		}
	}
}

func TestRunSweepOnceKeepsExportsWithoutRetention(t *testing.T) {
	archive := &fakeArchive{objects: []storage.ObjectInfo{{Key: "exports/a.csv", LastModified: time.Unix(0, 0)}}}
	service := &Service{Exports: archive}

	if summary := service.RunSweepOnce(context.Background()); summary.ExportsDeleted != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	if archive.listed != 0 {
		t.Fatal("archive listed although retention is disabled")
	}
}

func TestRunSweepOnceContinuesPastDeleteFailures(t *testing.T) {
	old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	archive := &fakeArchive{
		objects: []storage.ObjectInfo{
			{Key: "exports/a.csv", LastModified: old},
			{Key: "exports/b.csv", LastModified: old},
		},
		failKey: "exports/a.csv",
	}
	service := &Service{Exports: archive, Config: Config{ExportRetention: time.Hour}}

	if summary := service.RunSweepOnce(context.Background()); summary.ExportsDeleted != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if len(archive.deleted) != 1 || archive.deleted[0] != "exports/b.csv" {
		t.Fatalf("deleted = %#v", archive.deleted)
	}

	archive.listErr = errors.New("bucket unavailable")
	if summary := service.RunSweepOnce(context.Background()); summary.ExportsDeleted != 0 {
		t.Fatalf("summary after list failure = %+v", summary)
	}
}

type fakeArchive struct {
	objects []storage.ObjectInfo
	deleted []string
	listed  int
	failKey string
	listErr error
}

func (f *fakeArchive) List(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	f.listed++
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []storage.ObjectInfo
	for _, object := range f.objects {
		if strings.HasPrefix(object.Key, prefix) {
			out = append(out, object)
		}
	}
	return out, nil
}

func (f *fakeArchive) Delete(_ context.Context, key string) error {
	if key == f.failKey {
		return errors.New("access denied")
	}
	f.deleted = append(f.deleted, key)
	return nil
}
