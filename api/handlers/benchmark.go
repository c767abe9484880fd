package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/meghashyamc/linefinder/logger"
	"github.com/meghashyamc/linefinder/services/search"
	"github.com/meghashyamc/linefinder/validation"
)

const defaultBenchmarkIterations = 100

type BenchmarkRequest struct {
	Query      string `form:"query" validate:"required,valid_query,max=1000"`
	Iterations int    `form:"iterations" validate:"min=0,max=10000"`
}

func (r *BenchmarkRequest) setDefaults() {
	if r.Iterations == 0 {
		r.Iterations = defaultBenchmarkIterations
	}
}

type BenchmarkResponse struct {
	Query      string            `json:"query"`
	Iterations int               `json:"iterations"`
	Averages   map[string]string `json:"averages"`
}

func SetupBenchmark(router gin.IRouter, logger logger.Logger, engine *search.Engine, validator *validation.Validator) {
	router.GET("/benchmark", handleBenchmark(engine, logger, validator))
}

func handleBenchmark(engine *search.Engine, logger logger.Logger, validator *validation.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		request := BenchmarkRequest{}
		if err := c.ShouldBindQuery(&request); err != nil {
			logger.Warn("could not extract expected params from benchmark request", "err", err.Error())
			c.Abort()
			writeResponse(c, nil, http.StatusUnprocessableEntity, []string{"failed to extract request query parameters"})
			return
		}

		if err := validator.Validate(request); err != nil {
			logger.Warn("could not validate benchmark request", "err", err.Error())
			c.Abort()
			writeResponse(c, nil, http.StatusNotAcceptable, []string{err.Error()})
			return
		}
		request.setDefaults()

		results, err := engine.Benchmark(request.Query, request.Iterations)
		if err != nil {
			logger.Error("benchmark failed", "err", err.Error())
			c.Abort()
			writeResponse(c, nil, searchErrorStatus(err), []string{err.Error()})
			return
		}

		averages := make(map[string]string, len(results))
		for algorithm, elapsed := range results {
			averages[algorithm.String()] = elapsed.String()
		}

		writeResponse(c, BenchmarkResponse{
			Query:      search.Normalize(request.Query),
			Iterations: request.Iterations,
			Averages:   averages,
		}, http.StatusOK, nil)
	}
}
