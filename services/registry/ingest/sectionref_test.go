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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractSectionRef(t *testing.T) {
	cases := []struct {
		name string
		text string
		want string
	}{
		{"chapter", "Chapter 5 Delivering a sufficient supply of homes", "chapter 5"},
		{"section with subsection", "see Section 3.2 of the local plan", "section 3.2"},
		{"paragraph", "Paragraph 11. Plans and decisions should apply a presumption", "para 11"},
		{"paragraph plural", "Paragraphs 60 to 62 set out the approach", "para 60"},
		{"para abbreviation", "as required by para. 136 of the Framework", "para 136"},
		{"paragraph with suffix letter", "Paragraph 80a applies to isolated homes", "para 80a"},
		{"table", "Table 2-1 shows the housing trajectory", "table 2-1"},
		{"figure", "Figure 3 illustrates the settlement hierarchy", "figure 3"},
		{"annex letter", "definitions are given in Annex 2", "annex 2"},
		{"case insensitive", "CHAPTER 12 Achieving well-designed places", "chapter 12"},
		{"chapter beats paragraph", "Chapter 5 begins. Paragraph 60 states the requirement.", "chapter 5"},
		{"section beats paragraph", "Paragraph 4 references Section 2.1 obligations", "section 2.1"},
		{"no reference", "Development should be sustainable and well designed.", ""},
		{"empty", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ExtractSectionRef(tc.text))
		})
	}
}
