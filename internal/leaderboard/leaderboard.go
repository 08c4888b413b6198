// Package leaderboard persists completed evaluation scores in BadgerDB and
// ranks them.
package leaderboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/hashicorp/go-hclog"

	"github.com/signalnine/riskarena/internal/scoring"
)

const entryPrefix = "entry/"

type Entry struct {
	AgentID        string         `json:"agent_id"`
	RunID          string         `json:"run_id"`
	Scores         scoring.Report `json:"scores"`
	FindingsCount  int            `json:"findings_count"`
	FalsePositives int            `json:"false_positives"`
	SubmittedAt    time.Time      `json:"submitted_at"`
}

// Sink accepts completed scores. Callers treat it as fire-and-forget.
type Sink interface {
	Record(ctx context.Context, e Entry) error
}

type Store struct {
	db *badger.DB
}

type Options struct {
	Dir      string
	InMemory bool
	Logger   hclog.Logger
}

func Open(opts Options) (*Store, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("leaderboard dir is required")
	}
	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(opts.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating leaderboard dir %s: %w", opts.Dir, err)
		}
		bopts = badger.DefaultOptions(opts.Dir)
	}
	bopts = bopts.WithNumVersionsToKeep(1)
	if opts.Logger != nil {
		bopts = bopts.WithLogger(&badgerLogger{logger: opts.Logger.Named("badger")})
	} else {
		bopts = bopts.WithLogger(nil)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("opening leaderboard: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func entryKey(e Entry) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", entryPrefix, e.SubmittedAt.UnixNano(), e.RunID))
}

func (s *Store) Record(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.SubmittedAt.IsZero() {
		e.SubmittedAt = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding leaderboard entry: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(e), data)
	})
}

// Top returns the n best entries by overall score; ties go to the earlier
// submission. n <= 0 returns every entry.
func (s *Store) Top(n int) ([]Entry, error) {
	var entries []Entry
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(entryPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(v []byte) error {
				var e Entry
				if err := json.Unmarshal(v, &e); err != nil {
					return err
				}
				entries = append(entries, e)
				return nil
			})
			if err != nil {
				return fmt.Errorf("decoding leaderboard entry: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Scores.Overall != entries[j].Scores.Overall {
			return entries[i].Scores.Overall > entries[j].Scores.Overall
		}
		return entries[i].SubmittedAt.Before(entries[j].SubmittedAt)
	})
	if n > 0 && len(entries) > n {
		entries = entries[:n]
	}
	return entries, nil
}

type badgerLogger struct {
	logger hclog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Trace(fmt.Sprintf(format, args...))
}
