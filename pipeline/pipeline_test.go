package pipeline

import (
	"fmt"
	"sync"
	"testing"

	"github.com/aluiziolira/go-course-mirror/config"
	"github.com/aluiziolira/go-course-mirror/models"
)

type collectingStore struct {
	mu    sync.Mutex
	files map[string][]byte
	dirs  map[string]struct{}
}

func newCollectingStore() *collectingStore {
	return &collectingStore{
		files: make(map[string][]byte),
		dirs:  make(map[string]struct{}),
	}
}

func (cs *collectingStore) Save(rel string, data []byte) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.files[rel] = append([]byte(nil), data...)
	return nil
}

func (cs *collectingStore) EnsureDir(rel string) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.dirs[rel] = struct{}{}
	return nil
}

func (cs *collectingStore) RemoveDirIfEmpty(rel string) (bool, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for path := range cs.files {
		if len(path) > len(rel) && path[:len(rel)] == rel {
			return false, nil
		}
	}
	delete(cs.dirs, rel)
	return true, nil
}

func (cs *collectingStore) get(rel string) ([]byte, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	data, ok := cs.files[rel]
	return data, ok
}

func (cs *collectingStore) count() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.files)
}

type erroringStore struct{}

func (erroringStore) Save(rel string, data []byte) error {
	return fmt.Errorf("disk full")
}

func (erroringStore) EnsureDir(rel string) error {
	return nil
}

func (erroringStore) RemoveDirIfEmpty(rel string) (bool, error) {
	return false, nil
}

func newTestPipeline(t *testing.T, store Store) *Pipeline {
	t.Helper()
	p, err := NewPipeline(store, config.DefaultConfig())
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	return p
}

func TestPipelineWritesArtifacts(t *testing.T) {
	store := newCollectingStore()
	p := newTestPipeline(t, store)
	p.Start(4)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		a := &models.Artifact{
			Path: fmt.Sprintf("course/row/slides/slide-%d.pdf", i),
			Data: []byte{byte(i)},
			Done: wg.Done,
		}
		if err := p.Process(a); err != nil {
			t.Fatalf("process: %v", err)
		}
	}
	wg.Wait()

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := store.count(); got != 10 {
		t.Fatalf("files written = %d, want 10", got)
	}

	metrics := p.GetMetrics()
	if got := metrics["written_assets"]; got != int64(10) {
		t.Fatalf("written_assets = %v, want 10", got)
	}
}

func TestPipelineDeduplicatesDestinations(t *testing.T) {
	store := newCollectingStore()
	p := newTestPipeline(t, store)
	p.Start(1)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		a := &models.Artifact{
			Path: "course/row/reading/paper.pdf",
			Data: []byte("same dest"),
			Done: wg.Done,
		}
		if err := p.Process(a); err != nil {
			t.Fatalf("process: %v", err)
		}
	}
	wg.Wait()

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := store.count(); got != 1 {
		t.Fatalf("files written = %d, want 1", got)
	}

	metrics := p.GetMetrics()
	if got := metrics["duplicates"]; got != int64(2) {
		t.Fatalf("duplicates = %v, want 2", got)
	}
}

func TestPipelineRejectsEscapingPaths(t *testing.T) {
	store := newCollectingStore()
	p := newTestPipeline(t, store)
	p.Start(1)

	var wg sync.WaitGroup
	for _, path := range []string{"../outside.pdf", "/abs/outside.pdf", ""} {
		wg.Add(1)
		a := &models.Artifact{Path: path, Data: []byte("x"), Done: wg.Done}
		if err := p.Process(a); err != nil {
			t.Fatalf("process: %v", err)
		}
	}
	wg.Wait()

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := store.count(); got != 0 {
		t.Fatalf("files written = %d, want 0", got)
	}

	metrics := p.GetMetrics()
	if got := metrics["rejected_paths"]; got != int64(3) {
		t.Fatalf("rejected_paths = %v, want 3", got)
	}
}

func TestPipelineClosedRejectsNewWork(t *testing.T) {
	p := newTestPipeline(t, newCollectingStore())
	p.Start(1)
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	a := &models.Artifact{Path: "course/x/slides/a.pdf", Data: []byte("x")}
	if err := p.Process(a); err != ErrPipelineClosed {
		t.Fatalf("process after close = %v, want ErrPipelineClosed", err)
	}
}

func TestPipelineSurvivesWriteErrors(t *testing.T) {
	p := newTestPipeline(t, erroringStore{})
	p.Start(2)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		a := &models.Artifact{
			Path: fmt.Sprintf("course/row/homework/hw-%d.pdf", i),
			Data: []byte("x"),
			Done: wg.Done,
		}
		if err := p.Process(a); err != nil {
			t.Fatalf("process: %v", err)
		}
	}
	wg.Wait()

	if err := p.Close(); err == nil {
		t.Fatalf("expected recorded write error from Close")
	}

	metrics := p.GetMetrics()
	if got := metrics["write_errors"]; got != int64(4) {
		t.Fatalf("write_errors = %v, want 4", got)
	}
}

func TestPipelineStubsCountedSeparately(t *testing.T) {
	store := newCollectingStore()
	p := newTestPipeline(t, store)
	p.Start(1)

	var wg sync.WaitGroup
	wg.Add(2)
	asset := &models.Artifact{Path: "course/x/slides/a.pdf", Data: []byte("pdf"), Done: wg.Done}
	stub := &models.Artifact{Path: "course/x/reading/b.md", Data: []byte("#VISIT WEBPAGE:"), Stub: true, Done: wg.Done}
	if err := p.Process(asset); err != nil {
		t.Fatalf("process asset: %v", err)
	}
	if err := p.Process(stub); err != nil {
		t.Fatalf("process stub: %v", err)
	}
	wg.Wait()

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	metrics := p.GetMetrics()
	if metrics["written_assets"] != int64(1) || metrics["written_stubs"] != int64(1) {
		t.Fatalf("metrics = %v, want one asset and one stub", metrics)
	}
	if _, ok := store.get("course/x/reading/b.md"); !ok {
		t.Fatalf("stub file missing")
	}
}
