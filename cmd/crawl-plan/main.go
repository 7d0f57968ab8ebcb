package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/crawl-plan/pkg/config"
	"github.com/Sriram-PR/crawl-plan/pkg/crawler"
	"github.com/Sriram-PR/crawl-plan/pkg/fetch"
	"github.com/Sriram-PR/crawl-plan/pkg/parse"
	"github.com/Sriram-PR/crawl-plan/pkg/process"
	"github.com/Sriram-PR/crawl-plan/pkg/storage"
	"github.com/Sriram-PR/crawl-plan/pkg/utils"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "seed":
		runSeed(os.Args[2:])
	case "fetch":
		runFetch(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "export":
		runExport(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "list-sites":
		runListSites(os.Args[2:])
	case "version":
		fmt.Printf("crawl-plan %s\n", version)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printUsageTo(os.Stdout)
}

// printUsageTo writes usage information to the provided writer.
func printUsageTo(w io.Writer) {
	fmt.Fprintln(w, `crawl-plan - Resumable single-site page crawler

Usage:
  crawl-plan <command> [options]

Commands:
  seed        Add the homepage's same-site links to the crawl plan
  fetch       Fetch the next batch of pending pages
  status      Show how many pages are in each state
  export      Write the crawl plan as a JSON document
  validate    Validate configuration file
  list-sites  List available site keys
  version     Show version info

Run 'crawl-plan <command> -h' for command-specific help.`)
}

// loadConfig loads and parses the config file
func loadConfig(path string) (*config.AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg config.AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// siteFlags registers the flags shared by every site-scoped subcommand
func siteFlags(fs *flag.FlagSet) (configFile, siteKey, logLevel *string) {
	configFile = fs.String("config", "config.yaml", "Path to config file")
	siteKey = fs.String("site", "", "Site key from config (required)")
	logLevel = fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	return configFile, siteKey, logLevel
}

func parseOrExit(fs *flag.FlagSet, args []string) {
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
}

// runSeed handles the seed subcommand
func runSeed(args []string) {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	configFile, siteKey, logLevel := siteFlags(fs)
	homepage := fs.String("homepage", "", "Read the homepage HTML from this file instead of fetching start_url")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: crawl-plan seed [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  crawl-plan seed -site blog\n")
		fmt.Fprintf(os.Stderr, "  crawl-plan seed -site blog -homepage /tmp/homepage.html\n")
	}
	parseOrExit(fs, args)

	log := setupLogger(*logLevel)
	ctx, stop := signalContext(log)
	defer stop()
	os.Exit(doSeed(ctx, *configFile, *siteKey, *homepage, log, os.Stdout, os.Stderr))
}

// doSeed merges the homepage links into the plan and prints a summary.
// Returns exit code (0 = success, 1 = error).
func doSeed(ctx context.Context, configPath, siteKey, homepageFile string, log *logrus.Logger, stdout, stderr io.Writer) int {
	site, err := openSite(configPath, siteKey, log)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer site.Close()

	report, err := site.crawler.Seed(ctx, site.cfg.StartURL, homepageFile)
	if err != nil {
		fmt.Fprintf(stderr, "Error: seeding '%s': %v\n", siteKey, err)
		return 1
	}

	fmt.Fprintf(stdout, "Found %d unique links\n", report.Found)
	fmt.Fprintf(stdout, "Added %d new pages\n", report.Added)
	fmt.Fprintf(stdout, "Total pages in plan: %d\n", report.Total)
	return 0
}

// runFetch handles the fetch subcommand
func runFetch(args []string) {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	configFile, siteKey, logLevel := siteFlags(fs)
	batch := fs.Int("batch", 0, "Pages to fetch in this run (0 uses batch_size from config)")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: crawl-plan fetch [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  crawl-plan fetch -site blog\n")
		fmt.Fprintf(os.Stderr, "  crawl-plan fetch -site blog -batch 20\n")
	}
	parseOrExit(fs, args)

	log := setupLogger(*logLevel)
	ctx, stop := signalContext(log)
	defer stop()
	os.Exit(doFetch(ctx, *configFile, *siteKey, *batch, log, os.Stdout, os.Stderr))
}

// doFetch runs one batch and prints a summary.
// Failed pages do not change the exit code; only config, plan and storage failures do.
func doFetch(ctx context.Context, configPath, siteKey string, batch int, log *logrus.Logger, stdout, stderr io.Writer) int {
	site, err := openSite(configPath, siteKey, log)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer site.Close()

	if batch <= 0 {
		batch = config.GetEffectiveBatchSize(site.cfg, *site.app)
	}

	report, err := site.crawler.RunBatch(ctx, batch)
	if err != nil {
		if errors.Is(err, utils.ErrPlanNotFound) {
			fmt.Fprintf(stderr, "Error: no crawl plan for '%s'; run 'crawl-plan seed -site %s' first\n", siteKey, siteKey)
			return 1
		}
		fmt.Fprintf(stderr, "Error: fetching '%s': %v\n", siteKey, err)
		return 1
	}

	if report.Selected == 0 {
		fmt.Fprintln(stdout, "No pending pages")
		return 0
	}
	fmt.Fprintf(stdout, "\nDownloaded %d pages\n", report.Downloaded)
	fmt.Fprintf(stdout, "Skipped %d, errored %d, %d still pending\n", report.Skipped, report.Errored, report.Remaining)
	if report.Interrupted {
		fmt.Fprintln(stdout, "Interrupted before the batch finished; unprocessed pages stay pending")
	}
	return 0
}

// runStatus handles the status subcommand
func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configFile, siteKey, logLevel := siteFlags(fs)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: crawl-plan status [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	parseOrExit(fs, args)

	log := setupLogger(*logLevel)
	os.Exit(doStatus(context.Background(), *configFile, *siteKey, log, os.Stdout, os.Stderr))
}

// doStatus prints the plan's per-state counts.
// Returns exit code (0 = success, 1 = error).
func doStatus(ctx context.Context, configPath, siteKey string, log *logrus.Logger, stdout, stderr io.Writer) int {
	site, err := openSite(configPath, siteKey, log)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer site.Close()

	counts, err := site.crawler.Status(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Crawl plan for %s:\n\n", siteKey)
	fmt.Fprintf(stdout, "  Pending:    %d\n", counts.Pending)
	fmt.Fprintf(stdout, "  Downloaded: %d\n", counts.Downloaded)
	fmt.Fprintf(stdout, "  Skipped:    %d\n", counts.Skipped)
	fmt.Fprintf(stdout, "  Errored:    %d\n", counts.Errored)
	fmt.Fprintf(stdout, "\nTotal pages in plan: %d\n", counts.Total())
	return 0
}

// runExport handles the export subcommand
func runExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	configFile, siteKey, logLevel := siteFlags(fs)
	out := fs.String("out", "", "Destination JSON file (required)")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: crawl-plan export [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	parseOrExit(fs, args)

	log := setupLogger(*logLevel)
	os.Exit(doExport(context.Background(), *configFile, *siteKey, *out, log, os.Stdout, os.Stderr))
}

// doExport writes the stored plan to outPath.
// Returns exit code (0 = success, 1 = error).
func doExport(ctx context.Context, configPath, siteKey, outPath string, log *logrus.Logger, stdout, stderr io.Writer) int {
	if outPath == "" {
		fmt.Fprintln(stderr, "Error: -out is required")
		return 1
	}
	site, err := openSite(configPath, siteKey, log)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer site.Close()

	exporter, ok := site.store.(storage.Exporter)
	if !ok {
		fmt.Fprintf(stderr, "Error: state backend '%s' cannot export\n", site.app.StateBackend)
		return 1
	}
	if err := exporter.ExportJSON(ctx, outPath); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Exported crawl plan to %s\n", outPath)
	return 0
}

// runValidate handles the validate subcommand
func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	siteKey := fs.String("site", "", "Site key to validate (optional, validates all if empty)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: crawl-plan validate [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	parseOrExit(fs, args)

	exitCode := doValidate(*configFile, *siteKey, os.Stdout, os.Stderr)
	os.Exit(exitCode)
}

// doValidate performs validation and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doValidate(configPath, siteKey string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}

	if siteKey != "" {
		siteCfg, ok := appCfg.Sites[siteKey]
		if !ok {
			fmt.Fprintf(stderr, "Error: site '%s' not found in config\n", siteKey)
			return 1
		}
		siteWarnings, err := siteCfg.Validate()
		if err != nil {
			fmt.Fprintf(stderr, "ERROR: [%s] %v\n", siteKey, err)
			return 1
		}
		for _, w := range siteWarnings {
			fmt.Fprintf(stdout, "WARN: [%s] %s\n", siteKey, w)
		}
		fmt.Fprintf(stdout, "OK: Site '%s' configuration is valid\n", siteKey)
	} else {
		if len(appCfg.Sites) == 0 {
			fmt.Fprintln(stderr, "ERROR: no sites configured")
			return 1
		}
		hasError := false
		for _, key := range sortedSiteKeys(appCfg) {
			siteCfg := appCfg.Sites[key]
			siteWarnings, err := siteCfg.Validate()
			if err != nil {
				fmt.Fprintf(stderr, "ERROR: [%s] %v\n", key, err)
				hasError = true
				continue
			}
			for _, w := range siteWarnings {
				fmt.Fprintf(stdout, "WARN: [%s] %s\n", key, w)
			}
			fmt.Fprintf(stdout, "OK: [%s]\n", key)
		}
		if hasError {
			return 1
		}
	}

	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return 0
}

// runListSites handles the list-sites subcommand
func runListSites(args []string) {
	fs := flag.NewFlagSet("list-sites", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: crawl-plan list-sites [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	parseOrExit(fs, args)

	exitCode := doListSites(*configFile, os.Stdout, os.Stderr)
	os.Exit(exitCode)
}

// doListSites lists sites and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doListSites(configPath string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Sites in %s:\n\n", configPath)
	for _, key := range sortedSiteKeys(appCfg) {
		site := appCfg.Sites[key]
		fmt.Fprintf(stdout, "  %s\n", key)
		fmt.Fprintf(stdout, "    Domain: %s\n", site.AllowedDomain)
		fmt.Fprintf(stdout, "    Start URL: %s\n", site.StartURL)
		if site.CanonicalHost != "" {
			fmt.Fprintf(stdout, "    Canonical Host: %s\n", site.CanonicalHost)
		}
		fmt.Fprintln(stdout)
	}
	return 0
}

func sortedSiteKeys(appCfg *config.AppConfig) []string {
	keys := make([]string, 0, len(appCfg.Sites))
	for k := range appCfg.Sites {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// setupLogger creates a configured logrus.Logger with the given log level.
func setupLogger(logLevelStr string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	log.SetLevel(logrus.InfoLevel)

	level, err := logrus.ParseLevel(logLevelStr)
	if err != nil {
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", logLevelStr, err)
	} else {
		log.SetLevel(level)
		log.Debugf("Setting log level to: %s", level.String())
	}

	return log
}

// signalContext returns a context canceled on SIGINT/SIGTERM; a second signal forces exit
func signalContext(log *logrus.Logger) (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			log.Warnf("Received signal: %v. Finishing the current page and saving the plan...", sig)
			cancel()
		case <-ctx.Done():
			return
		}
		select {
		case sig := <-sigChan:
			log.Warnf("Received second signal: %v. Forcing exit.", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			log.Warn("Graceful shutdown period exceeded after signal. Forcing exit.")
			os.Exit(1)
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

// siteRuntime bundles the components wired for one configured site
type siteRuntime struct {
	app     *config.AppConfig
	cfg     config.SiteConfig
	store   storage.PlanStore
	crawler *crawler.Crawler
}

// Close releases the plan store
func (s *siteRuntime) Close() {
	_ = s.store.Close()
}

// openSite loads and validates the config, then wires store, fetcher and crawler for siteKey
func openSite(configPath, siteKey string, log *logrus.Logger) (*siteRuntime, error) {
	if siteKey == "" {
		return nil, errors.New("-site flag is required")
	}
	appCfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	appWarnings, err := appCfg.Validate()
	for _, w := range appWarnings {
		log.Warn(w)
	}
	if err != nil {
		return nil, err
	}

	siteCfg, ok := appCfg.Sites[siteKey]
	if !ok {
		return nil, fmt.Errorf("site '%s' not found in config file '%s'", siteKey, configPath)
	}
	siteWarnings, err := siteCfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("site '%s' configuration error: %w", siteKey, err)
	}
	for _, w := range siteWarnings {
		log.Warnf("[%s] %s", siteKey, w)
	}

	entry := log.WithField("site_key", siteKey)
	logSiteConfig(siteKey, siteCfg, appCfg, entry)

	store, err := openStore(siteKey, siteCfg, appCfg, entry)
	if err != nil {
		return nil, err
	}

	normalizer := parse.NewNormalizer(siteCfg.AllowedDomain, siteCfg.CanonicalHost)
	httpClient := fetch.NewClient(appCfg.HTTPClientSettings, entry)
	fetcher := fetch.NewFetcher(httpClient, config.GetEffectiveUserAgent(siteCfg, *appCfg), appCfg.MaxBodyBytes, entry)

	var markdown *process.MarkdownConverter
	if config.GetEffectiveMarkdownExport(siteCfg, *appCfg) {
		markdown = process.NewMarkdownConverter(siteCfg.ContentSelector, normalizer, entry)
	}
	sink := crawler.NewContentWriter(config.GetEffectiveContentDir(siteKey, siteCfg, *appCfg), markdown, entry)

	c := crawler.NewCrawler(store, fetcher, sink, normalizer, crawler.Options{
		MinContentLength: config.GetEffectiveMinContentLength(siteCfg, *appCfg),
	}, entry)

	return &siteRuntime{app: appCfg, cfg: siteCfg, store: store, crawler: c}, nil
}

// openStore selects the plan store for the configured state backend
func openStore(siteKey string, siteCfg config.SiteConfig, appCfg *config.AppConfig, log *logrus.Entry) (storage.PlanStore, error) {
	switch appCfg.StateBackend {
	case config.BackendBadger:
		store, err := storage.NewBadgerStore(appCfg.StateDir, siteKey, log)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.BackendSQLite:
		store, err := storage.NewSQLiteStore(appCfg.StateDir, siteKey, log)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return storage.NewFileStore(config.GetEffectivePlanFile(siteKey, siteCfg, *appCfg), log), nil
	}
}

// logSiteConfig logs the effective configuration for a site
func logSiteConfig(siteKey string, siteCfg config.SiteConfig, appCfg *config.AppConfig, log *logrus.Entry) {
	log.Debugf("Site Config for '%s': Start:%s, Domain:%s, CanonicalHost:%s",
		siteKey, siteCfg.StartURL, siteCfg.AllowedDomain, siteCfg.CanonicalHost)
	log.Debugf("Effective Config: Batch:%d, MinContent:%d, Markdown:%t, MaxBody:%d bytes",
		config.GetEffectiveBatchSize(siteCfg, *appCfg), config.GetEffectiveMinContentLength(siteCfg, *appCfg),
		config.GetEffectiveMarkdownExport(siteCfg, *appCfg), appCfg.MaxBodyBytes)
	log.Debugf("State: Backend:%s, Dir:%s, ContentDir:%s",
		appCfg.StateBackend, appCfg.StateDir, config.GetEffectiveContentDir(siteKey, siteCfg, *appCfg))
	log.Debugf("HTTP Client: Timeout:%v, MaxIdle:%d, MaxIdlePerHost:%d, MaxRedirects:%d",
		appCfg.HTTPClientSettings.Timeout, appCfg.HTTPClientSettings.MaxIdleConns,
		appCfg.HTTPClientSettings.MaxIdleConnsPerHost, appCfg.HTTPClientSettings.MaxRedirects)
}
