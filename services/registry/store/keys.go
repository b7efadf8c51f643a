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
	"fmt"
	"time"

	"github.com/bicesterbug/bbug-planning-reporter-sub001/services/registry/datatypes"
)

// Key layout. Source slugs are validated to a narrow alphabet with no ':',
// so colon-delimited keys cannot collide across prefixes.
//
//	policy:<source>                          -> PolicyDocument JSON
//	rev:<source>:<revision_id>               -> PolicyRevision JSON
//	revidx:<source>:<days %010d>:<revision_id> -> revision_id
//
// The revidx entries sort lexically in chronological order of
// effective_from because the day count is zero-padded, so a reverse prefix
// iteration yields revisions most-recent-first.
const (
	policyPrefix   = "policy:"
	revisionPrefix = "rev:"
	indexPrefix    = "revidx:"
)

func policyKey(source string) []byte {
	return []byte(policyPrefix + source)
}

func revisionKey(source, revisionID string) []byte {
	return []byte(revisionPrefix + source + ":" + revisionID)
}

func revisionSourcePrefix(source string) []byte {
	return []byte(revisionPrefix + source + ":")
}

func indexKey(source string, effectiveFrom time.Time, revisionID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%010d:%s", indexPrefix, source, datatypes.DaysSinceEpoch(effectiveFrom), revisionID))
}

func indexSourcePrefix(source string) []byte {
	return []byte(indexPrefix + source + ":")
}

// revisionIDFromIndexKey extracts the trailing revision_id from a revidx
// key. The day segment is fixed-width, so the id starts after the second
// colon past the source.
func revisionIDFromIndexKey(key []byte, source string) string {
	prefixLen := len(indexPrefix) + len(source) + 1 + 10 + 1 // "revidx:" + source + ":" + days + ":"
	if len(key) <= prefixLen {
		return ""
	}
	return string(key[prefixLen:])
}
