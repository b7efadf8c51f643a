// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bicesterbug/bbug-planning-reporter-sub001/services/registry/datatypes"
)

var tracer = otel.Tracer("bbug.registry.store")

// RevisionStore is the authoritative registry of policy documents and their
// temporally-versioned revisions.
//
// Mutations on a single source are serialized by a per-source mutex on top
// of Badger's transactions: the overlap check and the auto-supersession
// write must observe a stable snapshot of the source's revisions, and two
// concurrent creates for the same source must not both pass the check.
// Different sources never contend.
type RevisionStore struct {
	kv     *KV
	logger *slog.Logger

	// locks maps source -> *sync.Mutex. Entries are never removed; the
	// number of registered sources is small and bounded.
	locks sync.Map

	// now is a test hook; production uses time.Now.
	now func() time.Time
}

// NewRevisionStore creates a RevisionStore over an open KV instance.
func NewRevisionStore(kv *KV, logger *slog.Logger) *RevisionStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RevisionStore{
		kv:     kv,
		logger: logger,
		now:    time.Now,
	}
}

func (s *RevisionStore) sourceLock(source string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(source, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// ---------------------------------------------------------------------------
// Policy documents
// ---------------------------------------------------------------------------

// CreatePolicy registers a new policy document. The source slug must be
// normalized and unused; registration is create-once.
func (s *RevisionStore) CreatePolicy(ctx context.Context, doc *datatypes.PolicyDocument) (*datatypes.PolicyDocument, error) {
	ctx, span := tracer.Start(ctx, "store.CreatePolicy",
		trace.WithAttributes(attribute.String("policy.source", doc.Source)))
	defer span.End()

	doc.Source = datatypes.NormalizeSource(doc.Source)
	if err := datatypes.ValidateSource(doc.Source); err != nil {
		err = fmt.Errorf("%w: %v", ErrInvalidInput, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid source")
		return nil, err
	}
	if !datatypes.ValidCategory(doc.Category) {
		err := fmt.Errorf("%w: unknown policy category %q", ErrInvalidInput, doc.Category)
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid category")
		return nil, err
	}

	stored := *doc
	stored.CreatedAt = s.now().UTC()
	stored.UpdatedAt = nil

	err := s.kv.WithTxn(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get(policyKey(stored.Source))
		if err == nil {
			return &PolicyExistsError{Source: stored.Source}
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("check policy %s: %w", stored.Source, err)
		}
		return putJSON(txn, policyKey(stored.Source), &stored)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create policy failed")
		return nil, err
	}

	s.logger.Info("policy registered",
		slog.String("source", stored.Source),
		slog.String("category", string(stored.Category)))
	return &stored, nil
}

// GetPolicy fetches one policy document by source slug.
func (s *RevisionStore) GetPolicy(ctx context.Context, source string) (*datatypes.PolicyDocument, error) {
	var doc datatypes.PolicyDocument
	err := s.kv.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, policyKey(source), &doc, &PolicyNotFoundError{Source: source})
	})
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListPolicies returns all registered policy documents, optionally filtered
// by category (empty string means all), ordered by source slug.
func (s *RevisionStore) ListPolicies(ctx context.Context, category datatypes.PolicyCategory) ([]*datatypes.PolicyDocument, error) {
	if category != "" && !datatypes.ValidCategory(category) {
		return nil, fmt.Errorf("%w: unknown policy category %q", ErrInvalidInput, category)
	}

	var docs []*datatypes.PolicyDocument
	err := s.kv.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(policyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			var doc datatypes.PolicyDocument
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &doc)
			}); err != nil {
				return fmt.Errorf("decode policy %s: %w", it.Item().Key(), err)
			}
			if category != "" && doc.Category != category {
				continue
			}
			docs = append(docs, &doc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// ---------------------------------------------------------------------------
// Revisions
// ---------------------------------------------------------------------------

// CreateRevision registers a new revision of an existing policy.
//
// The effective interval is validated against every non-failed revision of
// the same source. One conflict shape resolves automatically: an existing
// open-ended revision whose interval the new revision starts strictly after
// gets its end date truncated to the day before the new effective_from.
// Every other conflict is rejected with a RevisionOverlapError.
//
// The new revision starts in status processing; ingestion promotes it.
// Returns the stored revision and any revisions truncated as a side effect.
func (s *RevisionStore) CreateRevision(ctx context.Context, rev *datatypes.PolicyRevision) (*datatypes.PolicyRevision, []*datatypes.PolicyRevision, error) {
	ctx, span := tracer.Start(ctx, "store.CreateRevision",
		trace.WithAttributes(
			attribute.String("policy.source", rev.Source),
			attribute.String("revision.id", rev.RevisionID),
		))
	defer span.End()

	if rev.RevisionID == "" {
		return nil, nil, fmt.Errorf("%w: revision_id is required", ErrInvalidInput)
	}
	if rev.VersionLabel == "" {
		return nil, nil, fmt.Errorf("%w: version_label is required", ErrInvalidInput)
	}

	stored := *rev
	stored.Source = datatypes.NormalizeSource(stored.Source)
	stored.EffectiveFrom = datatypes.TruncateToDay(stored.EffectiveFrom)
	if stored.EffectiveTo != nil {
		to := datatypes.TruncateToDay(*stored.EffectiveTo)
		if to.Before(stored.EffectiveFrom) {
			err := fmt.Errorf("%w: effective_to %s precedes effective_from %s",
				ErrInvalidInput, datatypes.FormatDay(to), datatypes.FormatDay(stored.EffectiveFrom))
			span.RecordError(err)
			span.SetStatus(codes.Error, "invalid interval")
			return nil, nil, err
		}
		stored.EffectiveTo = &to
	}
	stored.Status = datatypes.StatusProcessing
	stored.CreatedAt = s.now().UTC()
	stored.IngestedAt = nil
	stored.ChunkCount = 0
	stored.Error = ""

	mu := s.sourceLock(stored.Source)
	mu.Lock()
	defer mu.Unlock()

	var superseded []*datatypes.PolicyRevision
	err := s.kv.WithTxn(ctx, func(txn *badger.Txn) error {
		superseded = superseded[:0]

		if _, err := txn.Get(policyKey(stored.Source)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return &PolicyNotFoundError{Source: stored.Source}
			}
			return fmt.Errorf("check policy %s: %w", stored.Source, err)
		}
		if _, err := txn.Get(revisionKey(stored.Source, stored.RevisionID)); err == nil {
			return &RevisionExistsError{Source: stored.Source, RevisionID: stored.RevisionID}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("check revision %s: %w", stored.RevisionID, err)
		}

		if err := forEachRevision(txn, stored.Source, func(existing *datatypes.PolicyRevision) error {
			if existing.Status == datatypes.StatusFailed {
				return nil
			}
			return s.resolveConflict(txn, &stored, existing, &superseded)
		}); err != nil {
			return err
		}

		if err := putJSON(txn, revisionKey(stored.Source, stored.RevisionID), &stored); err != nil {
			return err
		}
		return txn.Set(indexKey(stored.Source, stored.EffectiveFrom, stored.RevisionID), []byte(stored.RevisionID))
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create revision failed")
		return nil, nil, err
	}

	for _, old := range superseded {
		s.logger.Info("revision auto-superseded",
			slog.String("source", stored.Source),
			slog.String("revision_id", old.RevisionID),
			slog.String("new_interval", old.IntervalString()),
			slog.String("superseded_by", stored.RevisionID))
	}
	s.logger.Info("revision created",
		slog.String("source", stored.Source),
		slog.String("revision_id", stored.RevisionID),
		slog.String("interval", stored.IntervalString()))
	span.SetAttributes(attribute.Int("revision.auto_superseded", len(superseded)))
	return &stored, superseded, nil
}

// resolveConflict checks one existing revision against the incoming one and,
// when the open-ended truncation rule applies, persists the shortened
// interval inside the same transaction.
func (s *RevisionStore) resolveConflict(txn *badger.Txn, incoming, existing *datatypes.PolicyRevision, superseded *[]*datatypes.PolicyRevision) error {
	from := datatypes.TruncateToDay(existing.EffectiveFrom)

	if existing.OpenEnded() {
		// An open-ended interval reaches every later date, so the only
		// escape is the new revision ending strictly before it starts.
		if incoming.EffectiveTo != nil && incoming.EffectiveTo.Before(from) {
			return nil
		}
		if !incoming.EffectiveFrom.After(from) {
			return &RevisionOverlapError{
				Source:        incoming.Source,
				From:          incoming.EffectiveFrom,
				To:            incoming.EffectiveTo,
				ConflictingID: existing.RevisionID,
			}
		}
		// Truncate: the existing revision stays in force through the day
		// before the new one takes effect. Status is untouched; the
		// lifecycle state machine is ingestion's concern, not interval
		// arithmetic's.
		end := datatypes.PrevDay(incoming.EffectiveFrom)
		updated := *existing
		updated.EffectiveTo = &end
		if err := putJSON(txn, revisionKey(updated.Source, updated.RevisionID), &updated); err != nil {
			return err
		}
		*superseded = append(*superseded, &updated)
		return nil
	}

	to := datatypes.TruncateToDay(*existing.EffectiveTo)
	if incoming.EffectiveFrom.After(to) {
		return nil
	}
	if incoming.EffectiveTo != nil && incoming.EffectiveTo.Before(from) {
		return nil
	}
	return &RevisionOverlapError{
		Source:        incoming.Source,
		From:          incoming.EffectiveFrom,
		To:            incoming.EffectiveTo,
		ConflictingID: existing.RevisionID,
	}
}

// GetRevision fetches one revision by source and revision ID.
func (s *RevisionStore) GetRevision(ctx context.Context, source, revisionID string) (*datatypes.PolicyRevision, error) {
	var rev datatypes.PolicyRevision
	err := s.kv.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, revisionKey(source, revisionID), &rev,
			&RevisionNotFoundError{Source: source, RevisionID: revisionID})
	})
	if err != nil {
		return nil, err
	}
	return &rev, nil
}

// ListRevisions returns all revisions of a policy ordered by effective_from
// descending (most recent first). Failed revisions are included; callers
// that need only resolvable revisions filter by status.
func (s *RevisionStore) ListRevisions(ctx context.Context, source string) ([]*datatypes.PolicyRevision, error) {
	var revs []*datatypes.PolicyRevision
	err := s.kv.WithReadTxn(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(policyKey(source)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return &PolicyNotFoundError{Source: source}
			}
			return fmt.Errorf("check policy %s: %w", source, err)
		}

		prefix := indexSourcePrefix(source)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration needs a seek key past the end of the prefix
		// range; 0xFF is above every byte the key alphabet uses.
		seek := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			id := revisionIDFromIndexKey(it.Item().KeyCopy(nil), source)
			if id == "" {
				continue
			}
			var rev datatypes.PolicyRevision
			if err := getJSON(txn, revisionKey(source, id), &rev,
				&RevisionNotFoundError{Source: source, RevisionID: id}); err != nil {
				return err
			}
			revs = append(revs, &rev)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return revs, nil
}

// UpdateRevision applies a partial update to a revision. Nil patch fields
// are left untouched. Changing effective_from re-keys the chronological
// index entry.
func (s *RevisionStore) UpdateRevision(ctx context.Context, source, revisionID string, patch datatypes.RevisionPatch) (*datatypes.PolicyRevision, error) {
	ctx, span := tracer.Start(ctx, "store.UpdateRevision",
		trace.WithAttributes(
			attribute.String("policy.source", source),
			attribute.String("revision.id", revisionID),
		))
	defer span.End()

	if patch.Status != nil && !datatypes.ValidStatus(*patch.Status) {
		err := fmt.Errorf("%w: unknown revision status %q", ErrInvalidInput, *patch.Status)
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid status")
		return nil, err
	}

	mu := s.sourceLock(source)
	mu.Lock()
	defer mu.Unlock()

	var updated datatypes.PolicyRevision
	err := s.kv.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := getJSON(txn, revisionKey(source, revisionID), &updated,
			&RevisionNotFoundError{Source: source, RevisionID: revisionID}); err != nil {
			return err
		}
		oldFrom := updated.EffectiveFrom

		if patch.VersionLabel != nil {
			updated.VersionLabel = *patch.VersionLabel
		}
		if patch.EffectiveFrom != nil {
			updated.EffectiveFrom = datatypes.TruncateToDay(*patch.EffectiveFrom)
		}
		if patch.ClearEffectiveTo {
			updated.EffectiveTo = nil
		} else if patch.EffectiveTo != nil {
			to := datatypes.TruncateToDay(*patch.EffectiveTo)
			updated.EffectiveTo = &to
		}
		if updated.EffectiveTo != nil && updated.EffectiveTo.Before(updated.EffectiveFrom) {
			return fmt.Errorf("%w: effective_to %s precedes effective_from %s",
				ErrInvalidInput, datatypes.FormatDay(*updated.EffectiveTo), datatypes.FormatDay(updated.EffectiveFrom))
		}
		if patch.Status != nil {
			updated.Status = *patch.Status
		}
		if patch.FilePath != nil {
			updated.FilePath = *patch.FilePath
		}
		if patch.ChunkCount != nil {
			updated.ChunkCount = *patch.ChunkCount
		}
		if patch.IngestedAt != nil {
			t := patch.IngestedAt.UTC()
			updated.IngestedAt = &t
		}
		if patch.Error != nil {
			updated.Error = *patch.Error
		}

		if !updated.EffectiveFrom.Equal(oldFrom) {
			if err := txn.Delete(indexKey(source, oldFrom, revisionID)); err != nil {
				return fmt.Errorf("delete stale index entry: %w", err)
			}
			if err := txn.Set(indexKey(source, updated.EffectiveFrom, revisionID), []byte(revisionID)); err != nil {
				return fmt.Errorf("write index entry: %w", err)
			}
		}
		return putJSON(txn, revisionKey(source, revisionID), &updated)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update revision failed")
		return nil, err
	}
	return &updated, nil
}

// DeleteRevision removes a revision and its index entry. Deleting the only
// active revision of a policy is forbidden; the registry never silently
// loses its answer to "what is in force today".
//
// Chunk cleanup in the vector index is the caller's responsibility; the
// store does not reach into derived projections.
func (s *RevisionStore) DeleteRevision(ctx context.Context, source, revisionID string) error {
	ctx, span := tracer.Start(ctx, "store.DeleteRevision",
		trace.WithAttributes(
			attribute.String("policy.source", source),
			attribute.String("revision.id", revisionID),
		))
	defer span.End()

	mu := s.sourceLock(source)
	mu.Lock()
	defer mu.Unlock()

	err := s.kv.WithTxn(ctx, func(txn *badger.Txn) error {
		var rev datatypes.PolicyRevision
		if err := getJSON(txn, revisionKey(source, revisionID), &rev,
			&RevisionNotFoundError{Source: source, RevisionID: revisionID}); err != nil {
			return err
		}

		if rev.Status == datatypes.StatusActive {
			otherActive := false
			if err := forEachRevision(txn, source, func(other *datatypes.PolicyRevision) error {
				if other.RevisionID != revisionID && other.Status == datatypes.StatusActive {
					otherActive = true
				}
				return nil
			}); err != nil {
				return err
			}
			if !otherActive {
				return &SoleActiveRevisionError{Source: source, RevisionID: revisionID}
			}
		}

		if err := txn.Delete(indexKey(source, datatypes.TruncateToDay(rev.EffectiveFrom), revisionID)); err != nil {
			return fmt.Errorf("delete index entry: %w", err)
		}
		return txn.Delete(revisionKey(source, revisionID))
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delete revision failed")
		return err
	}

	s.logger.Info("revision deleted",
		slog.String("source", source),
		slog.String("revision_id", revisionID))
	return nil
}

// GetCurrentRevision returns the active revision in force today for the
// given policy, or a NoCurrentRevisionError when none covers the present
// day.
func (s *RevisionStore) GetCurrentRevision(ctx context.Context, source string) (*datatypes.PolicyRevision, error) {
	today := datatypes.TruncateToDay(s.now().UTC())

	var current *datatypes.PolicyRevision
	err := s.kv.WithReadTxn(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(policyKey(source)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return &PolicyNotFoundError{Source: source}
			}
			return fmt.Errorf("check policy %s: %w", source, err)
		}
		return forEachRevision(txn, source, func(rev *datatypes.PolicyRevision) error {
			if rev.Status == datatypes.StatusActive && rev.Covers(today) {
				r := *rev
				current = &r
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, &NoCurrentRevisionError{Source: source, AsOf: today}
	}
	return current, nil
}

// ---------------------------------------------------------------------------
// Transaction helpers
// ---------------------------------------------------------------------------

func putJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := txn.Set(key, data); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// getJSON reads and decodes one key, returning notFound when the key is
// absent.
func getJSON(txn *badger.Txn, key []byte, v any, notFound error) error {
	item, err := txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return notFound
		}
		return fmt.Errorf("read %s: %w", key, err)
	}
	return item.Value(func(val []byte) error {
		if err := json.Unmarshal(val, v); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		return nil
	})
}

// forEachRevision iterates every revision of a source in key order,
// invoking fn with a decoded copy. Returning an error stops the scan.
func forEachRevision(txn *badger.Txn, source string, fn func(*datatypes.PolicyRevision) error) error {
	prefix := revisionSourcePrefix(source)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var rev datatypes.PolicyRevision
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &rev)
		}); err != nil {
			return fmt.Errorf("decode revision %s: %w", it.Item().Key(), err)
		}
		if err := fn(&rev); err != nil {
			return err
		}
	}
	return nil
}
