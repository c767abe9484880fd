package search

import (
	"bufio"
	"os"
	"slices"
	"strings"
	"time"
)

const (
	initialLineBufferSize = 64 * 1024
	maxLineSize           = 16 * 1024 * 1024
)

// fileIndex is an immutable snapshot of the source file. A new value is
// built on every load, and adding the sorted view produces a copy.
type fileIndex struct {
	lines       []string
	sortedLines []string
	loadedAt    time.Time
}

func loadIndex(path string) (*fileIndex, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, &FileNotFoundError{Path: path, Err: err}
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, initialLineBufferSize), maxLineSize)
	for scanner.Scan() {
		lines = append(lines, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, &FileNotFoundError{Path: path, Err: err}
	}

	return &fileIndex{lines: lines, loadedAt: time.Now()}, nil
}

func (idx *fileIndex) withSortedLines() *fileIndex {
	if idx.sortedLines != nil {
		return idx
	}

	sortedLines := slices.Clone(idx.lines)
	if sortedLines == nil {
		sortedLines = []string{}
	}
	slices.Sort(sortedLines)

	return &fileIndex{lines: idx.lines, sortedLines: sortedLines, loadedAt: idx.loadedAt}
}
