package llm

import "errors"

// ErrMissingAPIKey indicates the provider credential is not configured.
// It is a configuration problem and is never retried.
var ErrMissingAPIKey = errors.New("llm api key is not configured")

// ErrorKind classifies a ResponseError for callers that need to branch
// without string matching.
type ErrorKind int

const (
	// KindGateway covers HTTP and provider-level failures.
	KindGateway ErrorKind = iota
	// KindContent covers empty, refused, tool-call-only and truncated responses.
	KindContent
	// KindParse covers model output that is not recoverable JSON.
	KindParse
)

// ResponseError is returned for any failure past the transport setup. RawText
// holds whatever the provider returned, possibly empty, so operators can
// diagnose the failure from the persisted job record.
type ResponseError struct {
	Kind    ErrorKind
	Message string
	RawText string
}

func (e *ResponseError) Error() string { return e.Message }

func newGatewayError(message, rawText string) *ResponseError {
	return &ResponseError{Kind: KindGateway, Message: message, RawText: rawText}
}

func newContentError(message, rawText string) *ResponseError {
	return &ResponseError{Kind: KindContent, Message: message, RawText: rawText}
}

// RawResponseText extracts the raw provider text from err when it carries one.
func RawResponseText(err error) string {
	var respErr *ResponseError
	if errors.As(err, &respErr) {
		return respErr.RawText
	}
	return ""
}
