package search

import "time"

const defaultBenchmarkIterations = 100

// Benchmark runs query through every algorithm and returns the average
// elapsed time of each.
func (e *Engine) Benchmark(query string, iterations int) (map[Algorithm]time.Duration, error) {
	if iterations <= 0 {
		iterations = defaultBenchmarkIterations
	}

	results := make(map[Algorithm]time.Duration, len(Algorithms))
	for _, algorithm := range Algorithms {
		var total time.Duration
		for range iterations {
			_, elapsed, err := e.Search(query, algorithm)
			if err != nil {
				return nil, err
			}
			total += elapsed
		}
		results[algorithm] = total / time.Duration(iterations)
	}

	return results, nil
}
