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

/*
Package corpus loads the candidate filename pool a node draws its local
file index from at startup, and samples a small uniform subset the way the
original synthetic file-content generator does: 3 to 5 names, without
replacement.
*/
package corpus

import (
	"bufio"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"
)

// MinSample and MaxSample bound how many candidate filenames a node
// adopts into its local index at startup: 3-5, sampled uniformly without
// replacement.
const (
	MinSample = 3
	MaxSample = 5
)

// LoadCandidates reads path as a newline-delimited list of candidate
// filenames, skipping blank lines.
func LoadCandidates(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("corpus: open %s: %w", path, err)
	}
	defer f.Close()

	var names []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		names = append(names, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("corpus: read %s: %w", path, err)
	}
	return names, nil
}

// Sample draws a uniformly random count in [MinSample, MaxSample] (clamped
// to len(candidates) if smaller) and returns that many distinct entries of
// candidates, chosen without replacement.
func Sample(candidates []string) []string {
	if len(candidates) == 0 {
		return nil
	}
	n := MinSample + rand.IntN(MaxSample-MinSample+1)
	if n > len(candidates) {
		n = len(candidates)
	}

	shuffled := append([]string(nil), candidates...)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled[:n]
}
