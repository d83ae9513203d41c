/*
Copyright (c) Seekmesh Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package query implements search origination, forwarding, local matching,
// and reverse-path reply handling: the flooding engine at the core of the
// overlay. This file holds the local matching rule in its own file,
// separate from the forwarding state machine.
package query

import "strings"

// isWordByte reports whether r participates in a "word" for the purposes
// of boundary matching: letters and digits. Everything else (spaces,
// punctuation, underscores) is a boundary.
func isWordByte(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// containsWord reports whether word appears in haystack as a complete
// token: the match is not preceded or followed by another word byte. Both
// arguments are assumed already lowercased by the caller.
func containsWord(haystack, word string) bool {
	if word == "" {
		return true
	}
	start := 0
	for {
		idx := strings.Index(haystack[start:], word)
		if idx < 0 {
			return false
		}
		idx += start
		before := idx == 0 || !isWordByte(rune(haystack[idx-1]))
		after := idx+len(word) == len(haystack) || !isWordByte(rune(haystack[idx+len(word)]))
		if before && after {
			return true
		}
		start = idx + 1
	}
}

// Matches reports whether every whitespace-separated word of query appears
// in filename as a complete, word-boundary-delimited token, case
// insensitively. An empty query never matches.
func Matches(filename, query string) bool {
	words := strings.Fields(strings.ToLower(query))
	if len(words) == 0 {
		return false
	}
	lowerFilename := strings.ToLower(filename)
	for _, w := range words {
		if !containsWord(lowerFilename, w) {
			return false
		}
	}
	return true
}

// Index is the local file corpus the engine searches against. A
// StaticIndex built from the corpus package's in-memory sample satisfies
// this.
type Index interface {
	// Search returns every filename in the index that Matches query,
	// preserving original casing.
	Search(query string) []string
}

// StaticIndex is a fixed, immutable-after-construction Index backed by a
// slice. Because the index never changes after construction, Search needs
// no locking.
type StaticIndex []string

// Search implements Index.
func (idx StaticIndex) Search(query string) []string {
	var hits []string
	for _, filename := range idx {
		if Matches(filename, query) {
			hits = append(hits, filename)
		}
	}
	return hits
}
