// Package scraper drives the mirror job: it fetches the course schedule
// page, turns each table row into a download plan, and fans the plan out
// over a rate-limited collector, handing fetched bytes (or pointer stubs) to
// the pipeline for writing.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/go-course-mirror/config"
	"github.com/aluiziolira/go-course-mirror/models"
	"github.com/aluiziolira/go-course-mirror/parser"
	"github.com/aluiziolira/go-course-mirror/pipeline"
)

// rowSelector is the fixed marker for schedule rows on the course page.
const rowSelector = "table.table > tbody > tr"

// Scraper wraps the page and asset collectors for one mirror run.
type Scraper struct {
	cfg     *config.Config
	pages   *colly.Collector
	assets  *colly.Collector
	Metrics *Metrics

	requestCount int64
	errorCount   int64
	skippedLinks int64

	mu           sync.Mutex
	sawTable     bool
	rows         []models.Row
	failedURLs   []string
	errorsByType map[string]int

	handlersOnce sync.Once
}

// NewScraper builds a scraper instance configured from cfg.
func NewScraper(cfg *config.Config) (*Scraper, error) {
	parsed, err := url.Parse(cfg.PageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("page url must include a host")
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	pages := colly.NewCollector(
		colly.AllowedDomains(parsed.Host),
		colly.UserAgent(cfg.UserAgent),
	)
	pages.SetRequestTimeout(cfg.Timeout)
	pages.IgnoreRobotsTxt = !cfg.RespectRobotsTxt
	pages.WithTransport(transport)

	// Linked assets live on arbitrary hosts, so the download collector is
	// unrestricted; revisits stay allowed because one URL may target several
	// destinations.
	assets := colly.NewCollector(
		colly.Async(true),
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)
	assets.SetRequestTimeout(cfg.Timeout)
	assets.IgnoreRobotsTxt = !cfg.RespectRobotsTxt
	assets.WithTransport(transport)

	if err := assets.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Parallelism,
	}); err != nil {
		return nil, fmt.Errorf("configure download limits: %w", err)
	}

	return &Scraper{
		cfg:          cfg,
		pages:        pages,
		assets:       assets,
		errorsByType: make(map[string]int),
		Metrics:      NewMetrics(),
	}, nil
}

// Run fetches the schedule page and mirrors every linked artifact through p.
// A failure to retrieve the page itself is fatal; a missing schedule table
// is reported and treated as a successful empty run.
func (s *Scraper) Run(ctx context.Context, p *pipeline.Pipeline) (*models.MirrorResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.configureHandlers(p)

	start := time.Now()

	if err := s.pages.Visit(s.cfg.PageURL); err != nil {
		return nil, fmt.Errorf("fetch course page: %w", err)
	}
	s.pages.Wait()

	sawTable, rows := s.takeRows()
	if !sawTable {
		slog.Warn("schedule table not found", slog.String("url", s.cfg.PageURL))
		return s.result(start, 0), nil
	}

	var rowWG sync.WaitGroup
	for _, row := range rows {
		rowWG.Add(1)
		s.Metrics.IncRow()
		go func(row models.Row) {
			defer rowWG.Done()
			s.processRow(ctx, row, p)
		}(row)
	}
	rowWG.Wait()
	s.assets.Wait()

	return s.result(start, len(rows)), nil
}

func (s *Scraper) result(start time.Time, rowCount int) *models.MirrorResult {
	return &models.MirrorResult{
		StartTime:    start,
		EndTime:      time.Now(),
		RowCount:     rowCount,
		RequestCount: int(atomic.LoadInt64(&s.requestCount)),
		ErrorCount:   int(atomic.LoadInt64(&s.errorCount)),
		SkippedLinks: int(atomic.LoadInt64(&s.skippedLinks)),
		FailedURLs:   s.snapshotFailedURLs(),
		ErrorsByType: s.snapshotErrors(),
	}
}

func (s *Scraper) configureHandlers(p *pipeline.Pipeline) {
	s.handlersOnce.Do(func() {
		s.pages.OnRequest(func(r *colly.Request) {
			r.Ctx.Put("start", time.Now())
			atomic.AddInt64(&s.requestCount, 1)
			s.Metrics.IncRequest("page")
		})

		s.pages.OnResponse(func(r *colly.Response) {
			if start, ok := r.Request.Ctx.GetAny("start").(time.Time); ok {
				s.Metrics.ObserveDuration(time.Since(start))
			}
		})

		s.pages.OnHTML("table.table", func(e *colly.HTMLElement) {
			s.mu.Lock()
			s.sawTable = true
			s.mu.Unlock()
		})

		s.pages.OnHTML(rowSelector, func(e *colly.HTMLElement) {
			row, ok := s.buildRow(e)
			if !ok {
				return
			}
			s.mu.Lock()
			s.rows = append(s.rows, row)
			s.mu.Unlock()
		})

		s.assets.OnRequest(func(r *colly.Request) {
			r.Ctx.Put("start", time.Now())
			atomic.AddInt64(&s.requestCount, 1)
			s.Metrics.IncRequest("asset")
		})

		s.assets.OnResponse(func(r *colly.Response) {
			if start, ok := r.Request.Ctx.GetAny("start").(time.Time); ok {
				s.Metrics.ObserveDuration(time.Since(start))
			}

			// Non-2xx responses never reach this handler; colly routes them
			// to OnError.
			job, ok := r.Request.Ctx.GetAny("job").(*downloadJob)
			if !ok {
				return
			}

			s.submit(p, &models.Artifact{
				Path:      job.dest,
				Data:      r.Body,
				SourceURL: job.source,
			}, job.batch)
			s.Metrics.IncArtifact("asset")
		})

		s.assets.OnError(func(r *colly.Response, err error) {
			statusCode := 0
			var job *downloadJob
			if r != nil {
				statusCode = r.StatusCode
				if j, ok := r.Request.Ctx.GetAny("job").(*downloadJob); ok {
					job = j
				}
			}

			classified := classifyError(err, statusCode)
			source := ""
			if job != nil {
				source = job.source
			}
			s.recordFailure(source, classified)
			slog.Error("download error",
				slog.String("url", source),
				slog.String("category", errorTypeLabel(classified)),
				slog.Any("error", err),
			)

			// Status and transport failures alike collapse into a pointer
			// stub; one dead link never aborts the batch.
			if job != nil {
				s.submitStub(p, job, parser.InvalidStub(job.source))
			}
		})
	})
}

// buildRow converts one schedule-table row into a download plan. Rows with
// fewer than two cells are header or separator rows and produce nothing.
func (s *Scraper) buildRow(e *colly.HTMLElement) (models.Row, bool) {
	cells := e.DOM.Find("td")
	if cells.Length() < 2 {
		return models.Row{}, false
	}

	slug := parser.Slug(cells.Eq(1).Text())
	if slug == "" {
		slog.Warn("row with empty description skipped")
		return models.Row{}, false
	}

	row := models.Row{Slug: slug}
	row.Buckets = append(row.Buckets, models.RowBucket{
		Name:       models.BucketSlides,
		Directives: s.anchorDirectives(e, cells.Eq(1)),
	})
	if cells.Length() > 2 {
		row.Buckets = append(row.Buckets, models.RowBucket{
			Name:       models.BucketReading,
			Directives: s.anchorDirectives(e, cells.Eq(2)),
		})
	}
	if cells.Length() > 3 {
		row.Buckets = append(row.Buckets, models.RowBucket{
			Name:       models.BucketHomework,
			Directives: s.homeworkDirectives(e, cells.Eq(3)),
		})
	}
	return row, true
}

func (s *Scraper) anchorDirectives(e *colly.HTMLElement, cell *goquery.Selection) []models.Directive {
	var directives []models.Directive
	cell.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		d, ok := s.resolveAnchor(e, href)
		if !ok {
			return
		}
		directives = append(directives, d)
	})
	return directives
}

// homeworkDirectives applies the notebook rewrite rule before fan-out. The
// colab counter is only touched here, sequentially, so the concurrent
// download phase sees immutable directives.
func (s *Scraper) homeworkDirectives(e *colly.HTMLElement, cell *goquery.Selection) []models.Directive {
	var directives []models.Directive
	colabs := 0
	cell.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		absURL := e.Request.AbsoluteURL(href)
		if absURL == "" {
			return
		}

		if parser.IsColabLink(absURL) {
			rewritten, err := parser.RewriteColab(absURL)
			if err != nil {
				slog.Warn("invalid notebook link", slog.String("url", absURL), slog.Any("error", err))
				atomic.AddInt64(&s.skippedLinks, 1)
				s.Metrics.IncSkipped()
				return
			}
			directives = append(directives, models.Directive{
				URL:      rewritten,
				Filename: parser.NotebookFilename(s.cfg.NotebookPrefix, colabs),
			})
			colabs++
			return
		}

		d, ok := s.resolveAnchor(e, href)
		if !ok {
			return
		}
		directives = append(directives, d)
	})
	return directives
}

func (s *Scraper) resolveAnchor(e *colly.HTMLElement, href string) (models.Directive, bool) {
	absURL := e.Request.AbsoluteURL(href)
	if absURL == "" {
		return models.Directive{}, false
	}
	name, article, err := parser.NameFromURL(absURL)
	if err != nil {
		slog.Warn("unparseable link", slog.String("href", href), slog.Any("error", err))
		return models.Directive{}, false
	}
	return models.Directive{URL: absURL, Filename: name, Article: article}, true
}

// processRow dispatches the row's buckets in order, awaiting each before the
// next, then drops the row directory if nothing landed in it.
func (s *Scraper) processRow(ctx context.Context, row models.Row, p *pipeline.Pipeline) {
	rowDir := path.Join("course", row.Slug)
	if err := p.EnsureRowDir(rowDir); err != nil {
		slog.Error("create row directory", slog.String("dir", rowDir), slog.Any("error", err))
		return
	}
	slog.Info("processing row", slog.String("dir", rowDir))

	for _, bucket := range row.Buckets {
		if len(bucket.Directives) == 0 {
			continue
		}
		var batch sync.WaitGroup
		for _, d := range bucket.Directives {
			if ctx.Err() != nil {
				break
			}
			dest := path.Join(rowDir, string(bucket.Name), d.Filename)
			s.dispatch(p, d, dest, &batch)
		}
		batch.Wait()
	}

	removed, err := p.Cleanup(rowDir)
	if err != nil {
		slog.Error("cleanup row directory", slog.String("dir", rowDir), slog.Any("error", err))
		return
	}
	if removed {
		slog.Debug("removed empty row directory", slog.String("dir", rowDir))
	}
}

type downloadJob struct {
	dest   string
	source string
	batch  *sync.WaitGroup
}

// dispatch routes one directive: article links become pointer stubs without
// a fetch, everything else goes through the asset collector.
func (s *Scraper) dispatch(p *pipeline.Pipeline, d models.Directive, dest string, batch *sync.WaitGroup) {
	batch.Add(1)
	slog.Info("mirror", slog.String("url", d.URL), slog.String("dest", dest))

	if d.Article || path.Ext(dest) == ".html" {
		s.submit(p, &models.Artifact{
			Path:      parser.StubPath(dest),
			Data:      parser.ArticleStub(d.URL),
			SourceURL: d.URL,
			Stub:      true,
		}, batch)
		s.Metrics.IncArtifact("stub")
		return
	}

	job := &downloadJob{dest: dest, source: d.URL, batch: batch}
	reqCtx := colly.NewContext()
	reqCtx.Put("job", job)
	if err := s.assets.Request(http.MethodGet, d.URL, nil, reqCtx, nil); err != nil {
		classified := classifyError(err, 0)
		s.recordFailure(d.URL, classified)
		slog.Error("enqueue download", slog.String("url", d.URL), slog.Any("error", err))
		s.submitStub(p, job, parser.InvalidStub(d.URL))
	}
}

// submit hands an artifact to the pipeline; its Done callback releases the
// bucket batch once the write has settled. A closed pipeline releases the
// batch immediately so row processors never hang on shutdown.
func (s *Scraper) submit(p *pipeline.Pipeline, a *models.Artifact, batch *sync.WaitGroup) {
	a.Done = batch.Done
	if err := p.Process(a); err != nil {
		batch.Done()
		if !errors.Is(err, pipeline.ErrPipelineClosed) {
			slog.Error("pipeline process", slog.String("path", a.Path), slog.Any("error", err))
		}
	}
}

func (s *Scraper) submitStub(p *pipeline.Pipeline, job *downloadJob, data []byte) {
	s.submit(p, &models.Artifact{
		Path:      parser.StubPath(job.dest),
		Data:      data,
		SourceURL: job.source,
		Stub:      true,
	}, job.batch)
	s.Metrics.IncArtifact("stub")
}

func (s *Scraper) recordFailure(url string, classified error) {
	atomic.AddInt64(&s.errorCount, 1)
	category := errorTypeLabel(classified)
	s.Metrics.IncError(category)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorsByType[category]++
	if url != "" {
		s.failedURLs = append(s.failedURLs, url)
	}
}

func (s *Scraper) takeRows() (bool, []models.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.rows
	s.rows = nil
	return s.sawTable, rows
}

func (s *Scraper) snapshotFailedURLs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.failedURLs))
	copy(out, s.failedURLs)
	return out
}

func (s *Scraper) snapshotErrors() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.errorsByType))
	for k, v := range s.errorsByType {
		out[k] = v
	}
	return out
}
