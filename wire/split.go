// Copyright (c) Liam Stanley <me@liamstanley.io>. All rights reserved. Use
// of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package wire

import (
	"fmt"
	"iter"
	"unicode"
	"unicode/utf8"
)

// Split lazily cuts msg into pieces of at most max bytes. A cut is made
// after the last whitespace that fits (or before it, if the whitespace
// itself doesn't fit), otherwise at the last UTF-8 boundary at or below
// max. The returned sequence can be ranged over any number of times.
//
// A max of 0 yields nothing, an empty msg yields a single empty string.
func Split(msg string, max int) iter.Seq[string] {
	return func(yield func(string) bool) {
		if max <= 0 {
			return
		}

		s := msg
		for {
			if len(s) <= max {
				yield(s)
				return
			}

			at := splitPoint(s, max)
			if !yield(s[:at]) {
				return
			}
			s = s[at:]
		}
	}
}

// splitPoint assumes len(s) > max.
func splitPoint(s string, max int) int {
	for i := len(s); i > 0; {
		r, size := utf8.DecodeLastRuneInString(s[:i])
		i -= size

		if !unicode.IsSpace(r) || i > max {
			continue
		}

		if i+size <= max {
			return i + size
		}

		if i > 0 {
			return i
		}

		break
	}

	// No usable whitespace, back off to a rune boundary. A UTF-8 sequence
	// is at most four bytes, so one of max..max-3 is a boundary.
	for i := 0; i < utf8.UTFMax && max-i > 0; i++ {
		if utf8.RuneStart(s[max-i]) {
			return max - i
		}
	}

	panic(fmt.Sprintf("wire: can't split %q at %d bytes", s, max))
}
