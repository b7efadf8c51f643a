// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store implements the authoritative revision registry on BadgerDB.
//
// BadgerDB gives the registry an embedded ordered key-value store: policies
// and revisions live under typed key prefixes, and a per-source secondary
// index keyed by effective_from (days since epoch, zero-padded) makes
// chronological range scans a prefix iteration.
//
// The vector index is a derived projection of this store, never the other
// way round: every temporal fact a chunk carries was read from here first.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// KVConfig holds configuration for the registry's BadgerDB instance.
type KVConfig struct {
	// Path is the directory for BadgerDB files. Required unless InMemory.
	Path string

	// InMemory enables in-memory mode (no disk persistence). For testing.
	InMemory bool

	// SyncWrites enables synchronous writes. The registry is the source of
	// truth for legal effective dates, so production keeps this on.
	SyncWrites bool

	// GCInterval is how often to run value log garbage collection.
	// 0 disables GC.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum discardable ratio before GC rewrites.
	GCDiscardRatio float64

	// Logger receives BadgerDB's internal logging. Nil disables it.
	Logger *slog.Logger
}

// DefaultKVConfig returns production defaults: durable writes and a
// five-minute GC cadence.
func DefaultKVConfig() KVConfig {
	return KVConfig{
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryKVConfig returns a throwaway configuration for tests.
func InMemoryKVConfig() KVConfig {
	return KVConfig{
		InMemory:   true,
		SyncWrites: false,
	}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// KV wraps a BadgerDB instance with lifecycle management for the registry.
type KV struct {
	*badger.DB
	gcStop chan struct{}
	gcDone chan struct{}
}

// OpenKV opens the registry database and, when configured, starts a value
// log GC goroutine. Caller must Close.
func OpenKV(cfg KVConfig) (*KV, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	kv := &KV{DB: db}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		kv.gcStop = make(chan struct{})
		kv.gcDone = make(chan struct{})
		go kv.runGC(cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
	}
	return kv, nil
}

// Close stops the GC goroutine (if running) and closes the database.
func (kv *KV) Close() error {
	if kv.gcStop != nil {
		close(kv.gcStop)
		<-kv.gcDone
		kv.gcStop = nil
	}
	return kv.DB.Close()
}

func (kv *KV) runGC(interval time.Duration, ratio float64, logger *slog.Logger) {
	defer close(kv.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-kv.gcStop:
			return
		case <-ticker.C:
			err := kv.DB.RunValueLogGC(ratio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) && logger != nil {
				// ErrNoRewrite just means nothing to collect.
				logger.Warn("badger value log GC error", slog.String("error", err.Error()))
			}
		}
	}
}

// WithTxn executes fn within a read-write transaction, committing on nil
// return and discarding otherwise.
func (kv *KV) WithTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	txn := kv.DB.NewTransaction(true)
	defer txn.Discard()

	if err := fn(txn); err != nil {
		return err
	}
	return txn.Commit()
}

// WithReadTxn executes fn within a read-only transaction.
func (kv *KV) WithReadTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	txn := kv.DB.NewTransaction(false)
	defer txn.Discard()

	return fn(txn)
}
