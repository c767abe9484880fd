package search

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/meghashyamc/linefinder/logger"
)

// Engine answers whole-line existence queries against one file.
//
// With rereadOnQuery set, every Search loads the file again and never touches
// the cached snapshot, so each query observes the file as it is on disk.
// Otherwise the file is loaded on first use and kept for the lifetime of the
// Engine.
type Engine struct {
	logger        logger.Logger
	filePath      string
	rereadOnQuery bool

	mu     sync.Mutex
	cached *fileIndex
}

type Stats struct {
	FilePath      string    `json:"file_path"`
	RereadOnQuery bool      `json:"reread_on_query"`
	Lines         int       `json:"lines"`
	SortedView    bool      `json:"sorted_view"`
	LoadedAt      time.Time `json:"loaded_at"`
}

func New(logger logger.Logger, filePath string, rereadOnQuery bool) *Engine {
	return &Engine{
		logger:        logger,
		filePath:      filePath,
		rereadOnQuery: rereadOnQuery,
	}
}

// Normalize trims surrounding whitespace and strips null bytes.
func Normalize(query string) string {
	return strings.TrimSpace(strings.ReplaceAll(query, "\x00", ""))
}

func (e *Engine) RereadOnQuery() bool {
	return e.rereadOnQuery
}

// Search reports whether queryText, once normalized, equals a whole line of
// the file. An empty normalized query always matches. The elapsed time
// covers index resolution and the scan, so it includes the file load when
// the file is reread.
func (e *Engine) Search(queryText string, algorithm Algorithm) (bool, time.Duration, error) {
	query := Normalize(queryText)
	if query == "" {
		return true, 0, nil
	}

	start := time.Now()

	index, err := e.resolveIndex(algorithm)
	if err != nil {
		return false, time.Since(start), err
	}

	found, err := dispatch(index, algorithm, query)
	return found, time.Since(start), err
}

// Load reads the file into the cache. In reread mode it only checks that the
// file is readable.
func (e *Engine) Load() error {
	index, err := loadIndex(e.filePath)
	if err != nil {
		e.logger.Error("could not load file", "path", e.filePath, "err", err.Error())
		return err
	}
	if e.rereadOnQuery {
		return nil
	}

	e.mu.Lock()
	e.cached = index
	e.mu.Unlock()

	e.logger.Info("loaded file into cache", "path", e.filePath, "lines", len(index.lines))
	return nil
}

func (e *Engine) Stats() Stats {
	stats := Stats{FilePath: e.filePath, RereadOnQuery: e.rereadOnQuery}

	e.mu.Lock()
	index := e.cached
	e.mu.Unlock()

	if index != nil {
		stats.Lines = len(index.lines)
		stats.SortedView = index.sortedLines != nil
		stats.LoadedAt = index.loadedAt
	}

	return stats
}

func (e *Engine) resolveIndex(algorithm Algorithm) (*fileIndex, error) {
	if e.rereadOnQuery {
		index, err := loadIndex(e.filePath)
		if err != nil {
			return nil, err
		}
		if algorithm.needsSortedLines() {
			index = index.withSortedLines()
		}
		return index, nil
	}

	e.mu.Lock()
	index := e.cached
	e.mu.Unlock()

	if index == nil {
		// Concurrent first callers may each load the file. Only the slot
		// assignment is shared, so the duplicate work is harmless.
		loaded, err := loadIndex(e.filePath)
		if err != nil {
			return nil, err
		}
		e.logger.Info("loaded file into cache", "path", e.filePath, "lines", len(loaded.lines))

		e.mu.Lock()
		if e.cached == nil {
			e.cached = loaded
		}
		index = e.cached
		e.mu.Unlock()
	}

	if algorithm.needsSortedLines() && index.sortedLines == nil {
		sorted := index.withSortedLines()

		e.mu.Lock()
		if e.cached == index {
			e.cached = sorted
		}
		e.mu.Unlock()

		index = sorted
	}

	return index, nil
}

func dispatch(index *fileIndex, algorithm Algorithm, query string) (found bool, err error) {
	match, ok := matchers[algorithm]
	if !ok {
		match = matchers[Linear]
	}

	defer func() {
		if r := recover(); r != nil {
			found = false
			err = &SearchError{Reason: fmt.Sprintf("%s: %v", algorithm, r)}
		}
	}()

	return match(index.lines, index.sortedLines, query), nil
}
