package protocol

import "strings"

// Response is a single response line without its terminating newline.
type Response string

const (
	ResponseExists         Response = "STRING EXISTS"
	ResponseNotFound       Response = "STRING NOT FOUND"
	ResponseInvalidRequest Response = "INVALID REQUEST"
	ResponseRateLimited    Response = "RATE LIMIT EXCEEDED"
	ResponseFileNotFound   Response = "FILE NOT FOUND"
	ResponseSearchError    Response = "SEARCH ERROR"
	ResponseSSLRequired    Response = "SSL_REQUIRED"
	ResponseInternalError  Response = "INTERNAL ERROR"
)

var knownResponses = map[Response]struct{}{
	ResponseExists:         {},
	ResponseNotFound:       {},
	ResponseInvalidRequest: {},
	ResponseRateLimited:    {},
	ResponseFileNotFound:   {},
	ResponseSearchError:    {},
	ResponseSSLRequired:    {},
	ResponseInternalError:  {},
}

// Kind classifies failures that end a connection with a sentinel response.
type Kind int

const (
	KindInvalidRequest Kind = iota
	KindRateLimited
	KindFileUnavailable
	KindSearchFailure
	KindTLSFailure
	KindTransportFailure
)

var kindResponses = map[Kind]Response{
	KindInvalidRequest:   ResponseInvalidRequest,
	KindRateLimited:      ResponseRateLimited,
	KindFileUnavailable:  ResponseFileNotFound,
	KindSearchFailure:    ResponseSearchError,
	KindTLSFailure:       ResponseSSLRequired,
	KindTransportFailure: ResponseInternalError,
}

func (k Kind) Response() Response {
	if response, ok := kindResponses[k]; ok {
		return response
	}
	return ResponseInternalError
}

func (k Kind) String() string {
	switch k {
	case KindInvalidRequest:
		return "invalid_request"
	case KindRateLimited:
		return "rate_limited"
	case KindFileUnavailable:
		return "file_unavailable"
	case KindSearchFailure:
		return "search_failure"
	case KindTLSFailure:
		return "tls_failure"
	default:
		return "transport_failure"
	}
}

// Bytes returns the newline-terminated wire form.
func (r Response) Bytes() []byte {
	return []byte(string(r) + "\n")
}

func ResultResponse(found bool) Response {
	if found {
		return ResponseExists
	}
	return ResponseNotFound
}

func RenderResult(found bool) []byte {
	return ResultResponse(found).Bytes()
}

func RenderError(kind Kind) []byte {
	return kind.Response().Bytes()
}

// ParseResponse reads one response line as sent by the server.
func ParseResponse(line string) (Response, bool) {
	response := Response(strings.TrimRight(line, "\r\n"))
	_, ok := knownResponses[response]
	return response, ok
}
