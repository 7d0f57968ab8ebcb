package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/crawl-plan/pkg/config"
	"github.com/Sriram-PR/crawl-plan/pkg/models"
	"github.com/Sriram-PR/crawl-plan/pkg/parse"
	"github.com/Sriram-PR/crawl-plan/pkg/process"
	"github.com/Sriram-PR/crawl-plan/pkg/storage"
	"github.com/Sriram-PR/crawl-plan/pkg/utils"
)

// PageFetcher retrieves the body of a page; errors carry a short diagnostic
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (string, error)
}

// ContentSink stores accepted page bodies and returns the filename recorded in the plan
type ContentSink interface {
	Save(ctx context.Context, pageURL, body string) (filename string, err error)
}

// Options tunes a Crawler; zero values use the package defaults
type Options struct {
	MinContentLength int
	// Now stamps recorded outcomes; defaults to time.Now
	Now func() time.Time
}

// Crawler seeds and advances the crawl plan of a single site
// Pages are fetched one at a time, in plan order
type Crawler struct {
	log              *logrus.Entry
	store            storage.PlanStore
	fetcher          PageFetcher
	sink             ContentSink
	normalizer       *parse.Normalizer
	minContentLength int
	now              func() time.Time
}

// BatchReport summarizes one RunBatch call
type BatchReport struct {
	RunID      string
	Selected   int
	Downloaded int
	Skipped    int
	Errored    int
	// Remaining is the number of Pending records after the batch
	Remaining int
	// Interrupted is set when the context was canceled before every selected page was processed
	Interrupted bool
}

// Processed returns the number of outcomes recorded in the batch
func (r BatchReport) Processed() int {
	return r.Downloaded + r.Skipped + r.Errored
}

// SeedReport summarizes one Seed call
type SeedReport struct {
	Found int // unique same-site links on the homepage
	Added int // links not already in the plan
	Total int // records in the plan after merging
}

// NewCrawler wires a Crawler from its collaborators
func NewCrawler(
	store storage.PlanStore,
	fetcher PageFetcher,
	sink ContentSink,
	normalizer *parse.Normalizer,
	opts Options,
	baseLogger *logrus.Entry,
) *Crawler {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	minLength := opts.MinContentLength
	if minLength <= 0 {
		minLength = process.DefaultMinContentLength
	}
	return &Crawler{
		log:              baseLogger.WithField("component", "crawler"),
		store:            store,
		fetcher:          fetcher,
		sink:             sink,
		normalizer:       normalizer,
		minContentLength: minLength,
		now:              now,
	}
}

// Seed merges the same-site links of the homepage into the plan, creating the plan if none exists
// homepageFile, when set, is read instead of fetching startURL; startURL still serves as the base for relative links
func (c *Crawler) Seed(ctx context.Context, startURL, homepageFile string) (SeedReport, error) {
	var report SeedReport

	base, err := url.Parse(startURL)
	if err != nil {
		return report, fmt.Errorf("%w: start URL '%s': %w", utils.ErrParsing, startURL, err)
	}

	body, err := c.homepage(ctx, startURL, homepageFile)
	if err != nil {
		return report, err
	}

	links := process.ExtractLinks(body, base, c.normalizer).Sorted()
	report.Found = len(links)
	c.log.Infof("Found %d unique same-site links on %s", len(links), startURL)

	plan, err := c.store.Load(ctx)
	switch {
	case errors.Is(err, utils.ErrPlanNotFound):
		c.log.Info("No existing crawl plan, starting a new one")
		plan = models.NewCrawlPlan()
	case err != nil:
		return report, fmt.Errorf("loading crawl plan: %w", err)
	}

	added := plan.MergeLinks(links)
	report.Added = len(added)
	report.Total = plan.Len()
	for _, u := range added {
		c.log.Debugf("Queued %s", u)
	}

	if err := c.store.Save(ctx, plan); err != nil {
		return report, fmt.Errorf("saving crawl plan: %w", err)
	}
	c.log.Infof("Added %d new pages, plan now holds %d", report.Added, report.Total)
	return report, nil
}

func (c *Crawler) homepage(ctx context.Context, startURL, homepageFile string) (string, error) {
	if homepageFile != "" {
		data, err := os.ReadFile(homepageFile)
		if err != nil {
			return "", fmt.Errorf("%w: reading homepage file '%s': %w", utils.ErrFilesystem, homepageFile, err)
		}
		c.log.Infof("Read homepage from %s (%d bytes)", homepageFile, len(data))
		return string(data), nil
	}
	body, err := c.fetcher.Fetch(ctx, startURL)
	if err != nil {
		return "", fmt.Errorf("fetching homepage '%s': %w", startURL, err)
	}
	return body, nil
}

// RunBatch fetches up to batchSize Pending pages in plan order and saves the plan once
// Per-page failures become Errored records; only plan load, save and invariant failures are returned
// On cancellation, outcomes recorded so far are still saved and the interrupted page stays Pending
func (c *Crawler) RunBatch(ctx context.Context, batchSize int) (BatchReport, error) {
	if batchSize <= 0 {
		batchSize = config.DefaultBatchSize
	}
	report := BatchReport{RunID: uuid.NewString()}
	log := c.log.WithField("run_id", report.RunID)

	plan, err := c.store.Load(ctx)
	if err != nil {
		return report, fmt.Errorf("loading crawl plan: %w", err)
	}

	batch := plan.NextPending(batchSize)
	report.Selected = len(batch)
	if len(batch) == 0 {
		log.Info("No pending pages in crawl plan")
		return report, nil
	}
	log.Infof("Processing %d of %d pending pages", len(batch), plan.Counts().Pending)

	for i, rec := range batch {
		if ctx.Err() != nil {
			report.Interrupted = true
			break
		}
		pageLog := log.WithFields(logrus.Fields{"url": rec.URL, "item": fmt.Sprintf("%d/%d", i+1, len(batch))})

		outcome, interrupted := c.processPage(ctx, pageLog, rec.URL)
		if interrupted {
			pageLog.Warn("Interrupted, page left pending")
			report.Interrupted = true
			break
		}
		if err := plan.RecordOutcome(rec.URL, outcome, c.now()); err != nil {
			return report, err
		}

		switch outcome.State {
		case models.PageStateDownloaded:
			report.Downloaded++
		case models.PageStateSkipped:
			report.Skipped++
		case models.PageStateErrored:
			report.Errored++
		}
	}

	// A canceled run still persists what it finished
	if err := c.store.Save(context.WithoutCancel(ctx), plan); err != nil {
		return report, fmt.Errorf("saving crawl plan: %w", err)
	}
	report.Remaining = plan.Counts().Pending

	log.WithFields(logrus.Fields{
		"downloaded": report.Downloaded,
		"skipped":    report.Skipped,
		"errored":    report.Errored,
		"remaining":  report.Remaining,
	}).Info("Batch complete")
	return report, nil
}

// processPage fetches, evaluates and stores one page
// interrupted is true when the context ended during the fetch or save; no outcome is recorded then
func (c *Crawler) processPage(ctx context.Context, log *logrus.Entry, pageURL string) (outcome models.Outcome, interrupted bool) {
	log.Info("Fetching")
	body, err := c.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		if ctx.Err() != nil {
			return models.Outcome{}, true
		}
		log.WithField("error_type", utils.CategorizeError(err)).Warnf("Fetch failed: %v", err)
		return models.Errored(err.Error()), false
	}

	verdict := process.Evaluate(body, c.minContentLength)
	if !verdict.Accepted {
		log.WithField("text_length", verdict.Length).Infof("Skipped: %s", verdict.Reason)
		return models.Skipped(verdict.Reason), false
	}

	filename, err := c.sink.Save(ctx, pageURL, body)
	if err != nil {
		if ctx.Err() != nil {
			return models.Outcome{}, true
		}
		log.WithField("error_type", utils.CategorizeError(err)).Errorf("Saving content failed: %v", err)
		return models.Errored(err.Error()), false
	}
	log.WithField("text_length", verdict.Length).Infof("Downloaded -> %s", filename)
	return models.Downloaded(filename), false
}

// Status loads the plan and tallies its records by state
func (c *Crawler) Status(ctx context.Context) (models.StateCounts, error) {
	plan, err := c.store.Load(ctx)
	if err != nil {
		return models.StateCounts{}, fmt.Errorf("loading crawl plan: %w", err)
	}
	return plan.Counts(), nil
}
