package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/meghashyamc/linefinder/services/search"
	"github.com/meghashyamc/linefinder/validation"
)

const structuredRequestPrefix = "{"

var ErrInvalidRequest = errors.New("invalid request")

type InvalidRequestError struct {
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("invalid request: %s", e.Reason)
}

func (e *InvalidRequestError) Is(target error) bool {
	return target == ErrInvalidRequest
}

// Query is a parsed request. Text is already normalized.
type Query struct {
	Text      string
	Algorithm search.Algorithm
	Benchmark bool
}

type structuredRequest struct {
	Query     *string         `json:"query"`
	Algorithm json.RawMessage `json:"algorithm"`
	Benchmark json.RawMessage `json:"benchmark"`
}

type request struct {
	Query string `json:"query" validate:"required,valid_query,max=65536"`
}

type Codec struct {
	validator *validation.Validator
}

func NewCodec(validator *validation.Validator) *Codec {
	return &Codec{validator: validator}
}

// Parse decodes a request. Payloads whose first significant character opens
// a JSON object must be valid structured requests; anything else is a legacy
// request where the whole line is the query.
func (c *Codec) Parse(raw []byte) (Query, error) {
	if !utf8.Valid(raw) {
		return Query{}, &InvalidRequestError{Reason: "payload is not valid utf-8"}
	}

	text := search.Normalize(string(raw))
	if strings.HasPrefix(text, structuredRequestPrefix) {
		return c.parseStructured(text)
	}

	return c.parseLegacy(text)
}

func (c *Codec) parseStructured(text string) (Query, error) {
	var decoded structuredRequest
	if err := json.Unmarshal([]byte(text), &decoded); err != nil {
		return Query{}, &InvalidRequestError{Reason: fmt.Sprintf("malformed structured request: %s", err)}
	}
	if decoded.Query == nil {
		return Query{}, &InvalidRequestError{Reason: "missing query"}
	}

	query, err := c.validate(*decoded.Query)
	if err != nil {
		return Query{}, err
	}

	return Query{
		Text:      query,
		Algorithm: parseAlgorithm(decoded.Algorithm),
		Benchmark: parseBenchmark(decoded.Benchmark),
	}, nil
}

func (c *Codec) parseLegacy(text string) (Query, error) {
	query, err := c.validate(text)
	if err != nil {
		return Query{}, err
	}

	return Query{Text: query, Algorithm: search.Linear}, nil
}

func (c *Codec) validate(query string) (string, error) {
	query = search.Normalize(query)
	if err := c.validator.Validate(request{Query: query}); err != nil {
		return "", &InvalidRequestError{Reason: err.Error()}
	}
	return query, nil
}

// parseAlgorithm accepts any JSON value; anything that is not a known
// algorithm name means linear.
func parseAlgorithm(raw json.RawMessage) search.Algorithm {
	var name string
	if len(raw) == 0 || json.Unmarshal(raw, &name) != nil {
		return search.Linear
	}
	return search.ParseAlgorithm(name)
}

// parseBenchmark is true only for a JSON true; any other value means false.
func parseBenchmark(raw json.RawMessage) bool {
	var enabled bool
	if len(raw) == 0 || json.Unmarshal(raw, &enabled) != nil {
		return false
	}
	return enabled
}
