// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package dedupe provides an at-least-once-safe idempotency ledger for
// notification publishing, backed by dgraph-io/badger. A crash between
// a plugin action succeeding and its notification being published must
// not cause a double-publish on restart; the ledger records
// (lease_id, channel, generation) keys once published and is
// consulted before every publish attempt.
package dedupe

import (
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Ledger records which (lease_id, channel, generation) triples have
// already been published.
type Ledger struct {
	db *badger.DB
}

// Open opens (creating if necessary) the badger-backed ledger at path.
func Open(path string) (*Ledger, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("dedupe: open: %w", err)
	}
	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error { return l.db.Close() }

func key(leaseID, channel string, generation int64) []byte {
	return []byte(fmt.Sprintf("pub:%s:%s:%d", leaseID, channel, generation))
}

// AlreadyPublished reports whether the triple has a recorded entry.
func (l *Ledger) AlreadyPublished(leaseID, channel string, generation int64) (bool, error) {
	var found bool
	err := l.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key(leaseID, channel, generation))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("dedupe: lookup: %w", err)
	}
	return found, nil
}

// MarkPublished records the triple as published, with a TTL so the
// ledger doesn't grow unbounded.
func (l *Ledger) MarkPublished(leaseID, channel string, generation int64, ttl time.Duration) error {
	err := l.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(key(leaseID, channel, generation), []byte{1}).WithTTL(ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("dedupe: mark published: %w", err)
	}
	return nil
}
