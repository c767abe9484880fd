package search

import (
	"sort"
	"strings"
)

type Algorithm int

const (
	Linear Algorithm = iota
	Binary
	BoyerMoore
	KMP
)

// Algorithms lists every algorithm in a stable order.
var Algorithms = []Algorithm{Linear, Binary, BoyerMoore, KMP}

var algorithmNames = map[Algorithm]string{
	Linear:     "linear",
	Binary:     "binary",
	BoyerMoore: "boyer_moore",
	KMP:        "kmp",
}

func (a Algorithm) String() string {
	if name, ok := algorithmNames[a]; ok {
		return name
	}
	return algorithmNames[Linear]
}

// ParseAlgorithm maps a wire name to an Algorithm. Unknown names fall back
// to Linear.
func ParseAlgorithm(name string) Algorithm {
	name = strings.ToLower(strings.TrimSpace(name))
	for algorithm, algorithmName := range algorithmNames {
		if algorithmName == name {
			return algorithm
		}
	}
	return Linear
}

func (a Algorithm) needsSortedLines() bool {
	return a == Binary
}

type matchFunc func(lines []string, sortedLines []string, query string) bool

var matchers = map[Algorithm]matchFunc{
	Linear:     linearMatch,
	Binary:     binaryMatch,
	BoyerMoore: boyerMooreMatch,
	KMP:        kmpMatch,
}

func linearMatch(lines []string, _ []string, query string) bool {
	for _, line := range lines {
		if line == query {
			return true
		}
	}
	return false
}

func binaryMatch(_ []string, sortedLines []string, query string) bool {
	i := sort.SearchStrings(sortedLines, query)
	return i < len(sortedLines) && sortedLines[i] == query
}

// boyerMooreMatch and kmpMatch only report whole-line matches. A pattern
// search anchored to the full line length reduces to an equality check, so
// both share the linear scan.
func boyerMooreMatch(lines []string, _ []string, query string) bool {
	return wholeLineScan(lines, query)
}

func kmpMatch(lines []string, _ []string, query string) bool {
	return wholeLineScan(lines, query)
}

func wholeLineScan(lines []string, query string) bool {
	for _, line := range lines {
		if len(line) == len(query) && line == query {
			return true
		}
	}
	return false
}
