package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/crawl-plan/pkg/log"
	"github.com/Sriram-PR/crawl-plan/pkg/models"
	"github.com/Sriram-PR/crawl-plan/pkg/utils"
)

// Key layout:
//
//	plan:head                  current generation number (decimal)
//	plan:gen:<gen>:meta        top-level document fields other than "pages"
//	plan:gen:<gen>:page:<seq>  one page record, seq in plan order
//
// Save writes a complete new generation, then flips plan:head in one transaction.
// Readers resolve the head first, so they never see a half-written plan.
const (
	headKey      = "plan:head"
	genKeyPrefix = "plan:gen:"
	planDBDir    = "plan_db" // Subdirectory name within stateDir for Badger DB files
)

// BadgerStore implements PlanStore using BadgerDB
type BadgerStore struct {
	db  *badger.DB
	log *logrus.Entry
}

// NewBadgerStore opens (or creates) the plan database for siteKey under stateDir
// Generations left behind by an interrupted Save are removed
func NewBadgerStore(stateDir, siteKey string, logger *logrus.Entry) (*BadgerStore, error) {
	dbPath := filepath.Join(stateDir, utils.SanitizeFilename(siteKey)+"_"+planDBDir)
	logger = logger.WithField("plan_db", dbPath)

	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("%w: cannot create state directory %s: %w", utils.ErrFilesystem, dbPath, err)
	}

	opts := badger.DefaultOptions(dbPath).
		WithLogger(log.NewBadgerLogger(logger)).
		WithNumVersionsToKeep(1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open badger database at %s: %w", utils.ErrDatabase, dbPath, err)
	}
	store := &BadgerStore{db: db, log: logger}

	if err := store.dropStaleGenerations(); err != nil {
		logger.Warnf("Failed to remove stale plan generations: %v", err)
	}
	logger.Debug("Plan database opened.")
	return store, nil
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts
func (s *BadgerStore) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

func generationPrefix(gen uint64) []byte {
	return []byte(fmt.Sprintf("%s%016x:", genKeyPrefix, gen))
}

func metaKey(gen uint64) []byte {
	return append(generationPrefix(gen), "meta"...)
}

func pagePrefix(gen uint64) []byte {
	return append(generationPrefix(gen), "page:"...)
}

func pageKey(gen uint64, seq int) []byte {
	return append(pagePrefix(gen), fmt.Sprintf("%010d", seq)...)
}

// readHead returns the current generation; found is false before the first Save
func readHead(txn *badger.Txn) (gen uint64, found bool, err error) {
	item, err := txn.Get([]byte(headKey))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%w: reading plan head: %w", utils.ErrDatabase, err)
	}
	err = item.Value(func(val []byte) error {
		parsed, perr := strconv.ParseUint(string(val), 10, 64)
		if perr != nil {
			return fmt.Errorf("%w: plan head value '%s': %w", utils.ErrDatabase, string(val), perr)
		}
		gen = parsed
		return nil
	})
	return gen, err == nil, err
}

// Load implements PlanStore
func (s *BadgerStore) Load(ctx context.Context) (*models.CrawlPlan, error) {
	var plan *models.CrawlPlan
	err := s.db.View(func(txn *badger.Txn) error {
		gen, found, err := readHead(txn)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: plan database holds no plan yet", utils.ErrPlanNotFound)
		}

		loaded := models.NewCrawlPlan()
		item, err := txn.Get(metaKey(gen))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return fmt.Errorf("%w: reading plan metadata: %w", utils.ErrDatabase, err)
		default:
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &loaded.Extra)
			}); err != nil {
				return fmt.Errorf("%w: JSON plan metadata: %w", utils.ErrParsing, err)
			}
		}

		opts := badger.DefaultIteratorOptions
		opts.Prefix = pagePrefix(gen)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			var rec models.PageRecord
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				if errors.Is(err, utils.ErrParsing) {
					return fmt.Errorf("page key '%s': %w", string(item.Key()), err)
				}
				return fmt.Errorf("%w: JSON page key '%s': %w", utils.ErrParsing, string(item.Key()), err)
			}
			if err := loaded.AddRecord(&rec); err != nil {
				return err
			}
		}
		plan = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Debugf("Loaded plan with %d pages", plan.Len())
	return plan, nil
}

// Save implements PlanStore
// The new generation is written with a WriteBatch (plans can exceed a single transaction),
// then the head is flipped and the previous generation dropped
func (s *BadgerStore) Save(ctx context.Context, plan *models.CrawlPlan) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var current uint64
	var hadHead bool
	if err := s.db.View(func(txn *badger.Txn) error {
		var err error
		current, hadHead, err = readHead(txn)
		return err
	}); err != nil {
		return err
	}
	next := current + 1

	if err := s.writeGeneration(ctx, next, plan); err != nil {
		s.discardGeneration(next)
		return err
	}

	err := s.dbUpdate(func(txn *badger.Txn) error {
		return txn.Set([]byte(headKey), []byte(strconv.FormatUint(next, 10)))
	})
	if err != nil {
		s.discardGeneration(next)
		return fmt.Errorf("%w: flipping plan head to generation %d: %w", utils.ErrDatabase, next, err)
	}

	if hadHead {
		s.discardGeneration(current)
	}
	s.log.Debugf("Saved plan generation %d with %d pages", next, plan.Len())
	return nil
}

func (s *BadgerStore) writeGeneration(ctx context.Context, gen uint64, plan *models.CrawlPlan) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	if len(plan.Extra) > 0 {
		meta, err := json.Marshal(plan.Extra)
		if err != nil {
			return fmt.Errorf("%w: JSON plan metadata: %w", utils.ErrParsing, err)
		}
		if err := wb.Set(metaKey(gen), meta); err != nil {
			return fmt.Errorf("%w: writing plan metadata: %w", utils.ErrDatabase, err)
		}
	}
	for i, p := range plan.Pages {
		if err := ctx.Err(); err != nil {
			return err
		}
		val, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("%w: JSON page '%s': %w", utils.ErrParsing, p.URL, err)
		}
		if err := wb.Set(pageKey(gen, i), val); err != nil {
			return fmt.Errorf("%w: writing page '%s': %w", utils.ErrDatabase, p.URL, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("%w: flushing plan generation %d: %w", utils.ErrDatabase, gen, err)
	}
	return nil
}

// discardGeneration drops every key of gen; failures only leave garbage for the next open to sweep
func (s *BadgerStore) discardGeneration(gen uint64) {
	if err := s.db.DropPrefix(generationPrefix(gen)); err != nil {
		s.log.Warnf("Failed to drop plan generation %d: %v", gen, err)
	}
}

// dropStaleGenerations removes every generation other than the current head
func (s *BadgerStore) dropStaleGenerations() error {
	var head uint64
	var hasHead bool
	stale := make(map[uint64]struct{})

	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		head, hasHead, err = readHead(txn)
		if err != nil {
			return err
		}
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(genKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			rest := bytes.TrimPrefix(it.Item().Key(), []byte(genKeyPrefix))
			hex, _, ok := bytes.Cut(rest, []byte(":"))
			if !ok {
				continue
			}
			gen, perr := strconv.ParseUint(string(hex), 16, 64)
			if perr != nil {
				continue
			}
			if !hasHead || gen != head {
				stale[gen] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for gen := range stale {
		s.log.Infof("Removing stale plan generation %d", gen)
		s.discardGeneration(gen)
	}
	return nil
}

// ExportJSON implements Exporter
func (s *BadgerStore) ExportJSON(ctx context.Context, filePath string) error {
	plan, err := s.Load(ctx)
	if err != nil {
		return err
	}
	data, err := plan.Document()
	if err != nil {
		return err
	}
	return WriteFileAtomic(filePath, data, 0644)
}

// Close implements PlanStore
func (s *BadgerStore) Close() error {
	if s.db == nil || s.db.IsClosed() {
		return nil
	}
	// One value-log GC pass reclaims dropped generations; ErrNoRewrite just means nothing to do
	if err := s.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		s.log.Debugf("BadgerDB GC skipped: %v", err)
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("%w: closing plan database: %w", utils.ErrDatabase, err)
	}
	return nil
}
