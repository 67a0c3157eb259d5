// Package status defines the StatusCode taxonomy exposed verbatim across
// the engine's public surface, and EngineError, the structured error type
// every core operation returns.
package status

import "fmt"

// Code is one of the status codes exposed verbatim by the engine, listed
// in spec.md §6.
type Code string

const (
	OK Code = "OK"

	InvalidPrecision     Code = "INVALID_PRECISION"
	InvalidShape         Code = "INVALID_SHAPE"
	InvalidBatchSize     Code = "INVALID_BATCH_SIZE"
	InvalidMissingInput  Code = "INVALID_MISSING_INPUT"
	InvalidNoOfInputs    Code = "INVALID_NO_OF_INPUTS"
	InvalidValueCount    Code = "INVALID_VALUE_COUNT"
	InvalidContentSize   Code = "INVALID_CONTENT_SIZE"

	ModelNameMissing          Code = "MODEL_NAME_MISSING"
	ModelVersionMissing       Code = "MODEL_VERSION_MISSING"
	ModelVersionNotLoadedYet  Code = "MODEL_VERSION_NOT_LOADED_YET"
	ModelVersionNotLoadedAnymore Code = "MODEL_VERSION_NOT_LOADED_ANYMORE"

	PipelineDefinitionNameMissing            Code = "PIPELINE_DEFINITION_NAME_MISSING"
	PipelineDefinitionNotLoadedYet           Code = "PIPELINE_DEFINITION_NOT_LOADED_YET"
	PipelineDefinitionNotLoadedAnymore       Code = "PIPELINE_DEFINITION_NOT_LOADED_ANYMORE"
	PipelineCycleFound                       Code = "PIPELINE_CYCLE_FOUND"
	PipelineMultipleEntryNodes               Code = "PIPELINE_MULTIPLE_ENTRY_NODES"
	PipelineMultipleExitNodes                Code = "PIPELINE_MULTIPLE_EXIT_NODES"
	PipelineMissingEntryOrExit               Code = "PIPELINE_MISSING_ENTRY_OR_EXIT"
	PipelineNodeNameDuplicate                Code = "PIPELINE_NODE_NAME_DUPLICATE"
	PipelineNodeReferringToMissingModel       Code = "PIPELINE_NODE_REFERING_TO_MISSING_MODEL"
	PipelineNodeReferringToMissingNode        Code = "PIPELINE_NODE_REFERING_TO_MISSING_NODE"
	PipelineNodeReferringToMissingDataSource   Code = "PIPELINE_NODE_REFERING_TO_MISSING_DATA_SOURCE"
	PipelineNotAllInputsConnected             Code = "PIPELINE_NOT_ALL_INPUTS_CONNECTED"
	PipelineModelInputConnectedToMultipleSources Code = "PIPELINE_MODEL_INPUT_CONNECTED_TO_MULTIPLE_DATA_SOURCES"
	PipelineInconsistentShardDimensions       Code = "PIPELINE_INCONSISTENT_SHARD_DIMENSIONS"

	RequestedDynamicParametersOnSubscribedModel Code = "REQUESTED_DYNAMIC_PARAMETERS_ON_SUBSCRIBED_MODEL"

	InternalError Code = "INTERNAL_ERROR"
)

// Class categorizes a Code for retry/propagation decisions, per spec.md §7.
type Class int

const (
	// ClassCaller: validation failure on the request; no retry, no side effects.
	ClassCaller Class = iota
	// ClassTransient: reload window in progress; caller may retry with backoff.
	ClassTransient
	// ClassPermanent: target retired; caller should re-resolve.
	ClassPermanent
	// ClassBackend: surfaced as internal; slot is still released.
	ClassBackend
)

func (c Code) Class() Class {
	switch c {
	case ModelVersionNotLoadedYet, PipelineDefinitionNotLoadedYet:
		return ClassTransient
	case ModelVersionNotLoadedAnymore, PipelineDefinitionNotLoadedAnymore:
		return ClassPermanent
	case InternalError:
		return ClassBackend
	default:
		return ClassCaller
	}
}

// Error is a structured error carrying a Code, a human-readable message,
// and optional machine-readable details -- the engine-internal analog of
// the teacher's api/errors.APIError, without the HTTP status mapping
// (the wire protocol is out of scope for this core).
type Error struct {
	Code    Code
	Message string
	Details any
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// As reports whether err (or something it wraps) is an *Error and returns it.
func As(err error) (*Error, bool) {
	se, ok := err.(*Error)
	return se, ok
}

// CodeOf extracts the Code from err, defaulting to InternalError for any
// error that isn't a *Error.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	if se, ok := As(err); ok {
		return se.Code
	}
	return InternalError
}
