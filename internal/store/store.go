package store

import (
	"encoding/json"
	"sort"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"

	"order-scheduler/internal/sim"
)

const runPrefix = "run/"

var ErrNotFound = errors.New("run not found")

// Store keeps scenario run results in Badger, one JSON value per run ID
type Store struct {
	db *badger.DB
}

type OpenOptions struct {
	Path     string
	InMemory bool
}

func Open(opts OpenOptions) (*Store, error) {
	if !opts.InMemory && strings.TrimSpace(opts.Path) == "" {
		return nil, errors.New("store: path is required")
	}
	bopts := badger.DefaultOptions(opts.Path).WithLogger(nil)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, errors.Wrapf(err, "open store %s", opts.Path)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func runKey(id string) []byte {
	return []byte(runPrefix + id)
}

// Save writes res under its run ID, replacing any previous value
func (s *Store) Save(res sim.Result) error {
	if res.RunID == "" {
		return errors.New("store: result has no run id")
	}
	val, err := json.Marshal(res)
	if err != nil {
		return errors.Wrapf(err, "encode run %s", res.RunID)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(runKey(res.RunID), val)
	})
}

func (s *Store) Load(id string) (sim.Result, error) {
	var res sim.Result
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(runKey(id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return errors.Wrapf(ErrNotFound, "%s", id)
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &res)
		})
	})
	return res, err
}

// List returns every stored result ordered by start time
func (s *Store) List() ([]sim.Result, error) {
	var out []sim.Result
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(runPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var res sim.Result
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &res)
			})
			if err != nil {
				return errors.Wrapf(err, "decode %s", it.Item().Key())
			}
			out = append(out, res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (s *Store) Delete(id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(runKey(id))
	})
}
