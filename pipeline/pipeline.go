// Package pipeline owns all filesystem mutation of the mirror job: a fixed
// pool of workers drains artifacts onto the store, deduplicating destination
// paths so one run never writes the same file twice.
package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/go-course-mirror/config"
	"github.com/aluiziolira/go-course-mirror/models"
)

// ErrPipelineClosed is returned when Process is called after shutdown. The
// caller keeps ownership of the artifact (including its Done callback).
var ErrPipelineClosed = errors.New("pipeline: closed")

// Pipeline coordinates path validation, destination dedupe, and disk writes.
type Pipeline struct {
	store      Store
	artifactCh chan *models.Artifact

	wg sync.WaitGroup

	seen *lru.Cache[string, struct{}]

	metrics metrics

	mu     sync.Mutex // guards closed/err
	closed bool
	err    error

	closeOnce    sync.Once
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewPipeline builds a pipeline writing through store, buffered per cfg.
func NewPipeline(store Store, cfg *config.Config) (*Pipeline, error) {
	seen, err := lru.New[string, struct{}](cfg.DedupeMaxSize)
	if err != nil {
		return nil, fmt.Errorf("build dedupe cache: %w", err)
	}

	return &Pipeline{
		store:      store,
		artifactCh: make(chan *models.Artifact, cfg.PipelineBuffer),
		seen:       seen,
		metrics:    newMetrics(),
		shutdown:   make(chan struct{}),
	}, nil
}

// Start launches worker goroutines.
func (p *Pipeline) Start(workers int) {
	if workers <= 0 {
		workers = 1
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Process enqueues an artifact for writing. On a nil error the pipeline has
// taken ownership and will invoke the artifact's Done callback exactly once.
func (p *Pipeline) Process(a *models.Artifact) error {
	if a == nil {
		return nil
	}

	if closed, _ := p.state(); closed {
		return ErrPipelineClosed
	}

	return p.enqueue(a)
}

// EnsureRowDir pre-creates a row directory so the empty-row invariant can be
// checked even when every directive of the row failed.
func (p *Pipeline) EnsureRowDir(rel string) error {
	return p.store.EnsureDir(rel)
}

// Cleanup removes a row directory that ended up with zero entries.
func (p *Pipeline) Cleanup(rel string) (bool, error) {
	return p.store.RemoveDirIfEmpty(rel)
}

// Close waits for workers to finish and prevents more submissions.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
	}
	p.mu.Unlock()

	p.signalShutdown()
	p.closeOnce.Do(func() {
		close(p.artifactCh)
	})

	p.wg.Wait()
	return p.Err()
}

// Err returns the first write error encountered, if any.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// GetMetrics returns a snapshot of the internal counters.
func (p *Pipeline) GetMetrics() map[string]interface{} {
	return p.metrics.snapshot()
}

func (p *Pipeline) worker() {
	defer p.wg.Done()

	for a := range p.artifactCh {
		p.handle(a)
	}
}

func (p *Pipeline) handle(a *models.Artifact) {
	defer func() {
		if a.Done != nil {
			a.Done()
		}
	}()

	if err := ValidateRelPath(a.Path); err != nil {
		slog.Error("rejected artifact path", slog.String("path", a.Path), slog.Any("error", err))
		p.metrics.add("rejected_paths")
		return
	}

	// ContainsOrAdd reports whether the destination was already claimed by
	// an earlier artifact in this run.
	if claimed, _ := p.seen.ContainsOrAdd(a.Path, struct{}{}); claimed {
		p.metrics.add("duplicates")
		return
	}

	if err := p.store.Save(a.Path, a.Data); err != nil {
		slog.Error("write artifact", slog.String("path", a.Path), slog.Any("error", err))
		p.metrics.add("write_errors")
		p.recordErr(fmt.Errorf("write artifact %q: %w", a.Path, err))
		return
	}

	if a.Stub {
		p.metrics.add("written_stubs")
	} else {
		p.metrics.add("written_assets")
	}
}

func (p *Pipeline) enqueue(a *models.Artifact) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrPipelineClosed
		}
	}()

	select {
	case <-p.shutdown:
		return ErrPipelineClosed
	case p.artifactCh <- a:
		return nil
	}
}

// recordErr keeps the first write error without tearing the pipeline down:
// outstanding artifacts still need their Done callbacks fired so row
// processors can finish waiting.
func (p *Pipeline) recordErr(err error) {
	if err == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err == nil {
		p.err = err
	}
}

func (p *Pipeline) state() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed, p.err
}

func (p *Pipeline) signalShutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
}

type metrics struct {
	mu     sync.Mutex
	counts map[string]int64
}

func newMetrics() metrics {
	return metrics{
		counts: make(map[string]int64),
	}
}

func (m *metrics) add(kind string) {
	m.mu.Lock()
	m.counts[kind]++
	m.mu.Unlock()
}

func (m *metrics) snapshot() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]interface{}, len(m.counts))
	for k, v := range m.counts {
		out[k] = v
	}
	return out
}
