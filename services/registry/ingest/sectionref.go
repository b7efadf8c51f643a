// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ingest

import (
	"fmt"
	"regexp"
	"strings"
)

// sectionPatterns are tried in priority order against a chunk's text; the
// first hit names the chunk's section reference. The order reflects how
// planning documents are cited: structural units first, then paragraph
// numbers, then tables and figures.
var sectionPatterns = []struct {
	kind string
	re   *regexp.Regexp
}{
	{"chapter", regexp.MustCompile(`(?i)\bchapter\s+(\d{1,3})\b`)},
	{"section", regexp.MustCompile(`(?i)\bsection\s+(\d{1,3}(?:\.\d{1,3})*)\b`)},
	{"para", regexp.MustCompile(`(?i)\bparagraphs?\s+(\d{1,4}[a-z]?)\b`)},
	{"para", regexp.MustCompile(`(?i)\bpara\.?\s+(\d{1,4}[a-z]?)\b`)},
	{"table", regexp.MustCompile(`(?i)\btable\s+(\d{1,3}(?:[-.]\d{1,3})?)\b`)},
	{"figure", regexp.MustCompile(`(?i)\bfigure\s+(\d{1,3}(?:[-.]\d{1,3})?)\b`)},
	{"annex", regexp.MustCompile(`(?i)\bannex\s+(\d{1,3}|[a-z])\b`)},
}

// ExtractSectionRef finds the section reference a chunk of policy text most
// likely belongs to. Heuristic: patterns are scanned in priority order and
// the first match wins, so a chunk opening with "Chapter 5" keeps that ref
// even if it also cites "paragraph 11". Returns "" when nothing matches.
func ExtractSectionRef(text string) string {
	for _, p := range sectionPatterns {
		if m := p.re.FindStringSubmatch(text); m != nil {
			return fmt.Sprintf("%s %s", p.kind, strings.ToLower(m[1]))
		}
	}
	return ""
}
