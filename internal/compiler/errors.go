package compiler

import "fmt"

// ErrorCode identifies a compiler failure kind, surfaced to HTTP callers as
// the stable `code` string alongside a human-readable message.
type ErrorCode string

const (
	CodeInvalidSyntax     ErrorCode = "INVALID_SYNTAX"
	CodeMissingRequired   ErrorCode = "MISSING_REQUIRED"
	CodeUnsupportedVer    ErrorCode = "UNSUPPORTED_VERSION"
	CodeInvalidURL        ErrorCode = "INVALID_URL"
	CodeFetchFailed       ErrorCode = "FETCH_FAILED"
	CodeCircularImport    ErrorCode = "CIRCULAR_IMPORT"
	CodeMutualExclusion   ErrorCode = "MUTUAL_EXCLUSION"
	CodeNoContent         ErrorCode = "NO_CONTENT"
	CodeNoMachine         ErrorCode = "NO_MACHINE"
	CodeUnknownNode       ErrorCode = "UNKNOWN_NODE"
	CodeInvalidImportNode ErrorCode = "INVALID_IMPORT_NODE"
	CodeInvalidTrigger    ErrorCode = "INVALID_TRIGGER"
	CodeUnknownTriggerTag ErrorCode = "UNKNOWN_TRIGGER_TAG"
	CodeEmptyGroup        ErrorCode = "EMPTY_GROUP"

	// CodeImportTooDeep is not in the original taxonomy; it guards against
	// pathologically deep (but acyclic) import chains exhausting memory.
	CodeImportTooDeep ErrorCode = "IMPORT_TOO_DEEP"
)

// CompileError is the single error type returned by every stage of the
// compiler. Callers inspect Code rather than matching on Go error values.
type CompileError struct {
	Code    ErrorCode
	Message string
	Field   string // set for MissingRequired
	Context string // set for MissingRequired
	URL     string // set for InvalidUrl / FetchFailed
	Reason  string // set for FetchFailed
}

func (e *CompileError) Error() string {
	switch e.Code {
	case CodeMissingRequired:
		return fmt.Sprintf("missing required field %q in %s", e.Field, e.Context)
	case CodeFetchFailed:
		return fmt.Sprintf("failed to fetch %s: %s", e.URL, e.Reason)
	case CodeInvalidURL:
		return fmt.Sprintf("invalid import url %q", e.URL)
	default:
		return e.Message
	}
}

func errInvalidSyntax(msg string) *CompileError {
	return &CompileError{Code: CodeInvalidSyntax, Message: msg}
}

func errMissingRequired(field, context string) *CompileError {
	return &CompileError{Code: CodeMissingRequired, Field: field, Context: context}
}

func errUnsupportedVersion(got string) *CompileError {
	return &CompileError{Code: CodeUnsupportedVer, Message: fmt.Sprintf("unsupported version %q, expected %q", got, SupportedVersion)}
}

func errInvalidURL(url string) *CompileError {
	return &CompileError{Code: CodeInvalidURL, URL: url}
}

func errFetchFailed(url, reason string) *CompileError {
	return &CompileError{Code: CodeFetchFailed, URL: url, Reason: reason}
}

func errCircularImport(url string) *CompileError {
	return &CompileError{Code: CodeCircularImport, Message: fmt.Sprintf("circular import detected at %q", url)}
}

func errMutualExclusion(context string) *CompileError {
	return &CompileError{Code: CodeMutualExclusion, Message: fmt.Sprintf("fragment in %s declares both run and from", context)}
}

func errNoContent(context string) *CompileError {
	return &CompileError{Code: CodeNoContent, Message: fmt.Sprintf("fragment in %s declares neither run nor from", context)}
}

func errNoMachine() *CompileError {
	return &CompileError{Code: CodeNoMachine, Message: "chain.machine is required"}
}

func errUnknownNode(name, context string) *CompileError {
	return &CompileError{Code: CodeUnknownNode, Message: fmt.Sprintf("unknown node %q in %s", name, context)}
}

func errInvalidImportNode(name, url string) *CompileError {
	return &CompileError{Code: CodeInvalidImportNode, Message: fmt.Sprintf("import %q contains disallowed top-level node %q", url, name)}
}

func errInvalidTrigger(trigger string, allowed []string) *CompileError {
	return &CompileError{Code: CodeInvalidTrigger, Message: fmt.Sprintf("trigger %q not declared in document triggers %v", trigger, allowed)}
}

func errUnknownTriggerTag(tag string) *CompileError {
	return &CompileError{Code: CodeUnknownTriggerTag, Message: fmt.Sprintf("document declares unknown trigger tag %q", tag)}
}

func errEmptyGroup() *CompileError {
	return &CompileError{Code: CodeEmptyGroup, Message: "parallel block has no fragments"}
}

func errImportTooDeep(max int) *CompileError {
	return &CompileError{Code: CodeImportTooDeep, Message: fmt.Sprintf("import chain exceeds maximum depth of %d", max)}
}
