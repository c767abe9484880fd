package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/meghashyamc/linefinder/logger"
	"github.com/meghashyamc/linefinder/metrics"
	"github.com/meghashyamc/linefinder/protocol"
	"github.com/meghashyamc/linefinder/services/search"
	"github.com/meghashyamc/linefinder/validation"
)

type SearchRequest struct {
	Query     string `form:"query" validate:"required,valid_query,max=1000"`
	Algorithm string `form:"algorithm" validate:"valid_algorithm"`
}

type SearchResponse struct {
	Found     bool   `json:"found"`
	Response  string `json:"response"`
	Algorithm string `json:"algorithm"`
	Elapsed   string `json:"elapsed"`
}

func SetupSearch(router gin.IRouter, logger logger.Logger, engine *search.Engine, validator *validation.Validator, metrics *metrics.Metrics) {
	router.GET("/search", handleSearch(engine, logger, validator, metrics))
}

func handleSearch(engine *search.Engine, logger logger.Logger, validator *validation.Validator, metrics *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		request := SearchRequest{}
		if err := c.ShouldBindQuery(&request); err != nil {
			logger.Warn("could not extract expected params from search request", "err", err.Error())
			c.Abort()
			writeResponse(c, nil, http.StatusUnprocessableEntity, []string{"failed to extract request query parameters"})
			return
		}

		if err := validator.Validate(request); err != nil {
			logger.Warn("could not validate search request", "err", err.Error())
			c.Abort()
			writeResponse(c, nil, http.StatusNotAcceptable, []string{err.Error()})
			return
		}

		algorithm := search.ParseAlgorithm(request.Algorithm)
		found, elapsed, err := engine.Search(request.Query, algorithm)
		metrics.SearchCompleted(c.Request.Context(), algorithm.String(), elapsed)
		if err != nil {
			logger.Error("search failed", "algorithm", algorithm.String(), "err", err.Error())
			c.Abort()
			writeResponse(c, nil, searchErrorStatus(err), []string{err.Error()})
			return
		}

		writeResponse(c, SearchResponse{
			Found:     found,
			Response:  string(protocol.ResultResponse(found)),
			Algorithm: algorithm.String(),
			Elapsed:   elapsed.String(),
		}, http.StatusOK, nil)
	}
}

func searchErrorStatus(err error) int {
	if errors.Is(err, search.ErrFileNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
