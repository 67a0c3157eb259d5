// Package validate implements RequestValidator and ReshapePolicy (§4.11):
// it decides, for one inference request against one model's declared
// TensorInfo, whether the request is acceptable as-is, rejected outright,
// or requires a batch-size change / reshape before it can proceed.
// Grounded on the teacher's internal/core/silencing.Validate /
// internal/config/update_validator.go style (plain Go validation
// functions returning a typed decision, no reflection-based framework --
// reflection-based go-playground/validator/v10 is reserved for the
// config-file ambient layer, not this hot-path decision).
package validate

import (
	"fmt"

	"github.com/inferencemesh/modelmesh/internal/core/backend"
	"github.com/inferencemesh/modelmesh/internal/core/status"
	"github.com/inferencemesh/modelmesh/internal/core/tensor"
)

// Decision is the outcome of validating one request against one model's
// declared inputs.
type Decision int

const (
	// DecisionOK: proceed to inference unchanged.
	DecisionOK Decision = iota
	// DecisionBatchSizeChangeRequired: only the batch dimension differs
	// and batching mode is auto; caller should trigger a batch-size
	// reshape and retry.
	DecisionBatchSizeChangeRequired
	// DecisionReshapeRequired: non-batch dimensions differ and shape mode
	// is auto for the affected input; caller should trigger a full
	// reshape and retry.
	DecisionReshapeRequired
	// DecisionInvalid: a terminal validation error; Result.Err carries
	// the specific status.Code.
	DecisionInvalid
)

// Mode controls whether a dimension mismatch should trigger an automatic
// reshape/batch-change or be rejected outright.
type Mode int

const (
	ModeFixed Mode = iota
	ModeAuto
)

// Policy configures which dimensions a model allows auto-adaptation for.
type Policy struct {
	BatchMode Mode
	ShapeMode Mode
}

// Result is the outcome of Validate: a Decision plus, for
// DecisionReshapeRequired/DecisionBatchSizeChangeRequired, the concrete
// shapes to reshape to; for DecisionInvalid, the terminal error.
type Result struct {
	Decision       Decision
	ShapeOverrides map[string]tensor.Shape
	Err            error
}

// Validate checks request inputs against a model's declared TensorInfo
// and the model's Policy, producing one Decision (§4.11).
func Validate(declared backend.TensorMap, policy Policy, request map[string]tensor.Tensor) Result {
	if len(request) == 0 {
		return Result{Decision: DecisionInvalid, Err: status.New(status.InvalidMissingInput, "request has no inputs")}
	}

	for name := range request {
		if _, ok := declared[name]; !ok {
			return Result{Decision: DecisionInvalid, Err: status.Newf(status.InvalidNoOfInputs, "unexpected input %q", name)}
		}
	}
	for name := range declared {
		if _, ok := request[name]; !ok {
			return Result{Decision: DecisionInvalid, Err: status.Newf(status.InvalidMissingInput, "missing required input %q", name)}
		}
	}

	overrides := make(map[string]tensor.Shape)
	needsBatchChange := false
	needsReshape := false

	for name, info := range declared {
		reqTensor := request[name]

		if info.ElementType != tensor.Undefined && reqTensor.ElementType != info.ElementType {
			return Result{Decision: DecisionInvalid, Err: status.Newf(status.InvalidPrecision, "input %q: expected %s, got %s", name, info.ElementType, reqTensor.ElementType)}
		}

		if !reqTensor.Concrete() {
			return Result{Decision: DecisionInvalid, Err: status.Newf(status.InvalidShape, "input %q: request tensor must be concrete", name)}
		}

		diff, err := classifyShapeDiff(info.Shape, reqTensor.Shape)
		if err != nil {
			return Result{Decision: DecisionInvalid, Err: status.Newf(status.InvalidShape, "input %q: %v", name, err)}
		}

		switch diff {
		case shapeDiffNone:
			// exact match, nothing to do
		case shapeDiffBatchOnly:
			if policy.BatchMode != ModeAuto {
				return Result{Decision: DecisionInvalid, Err: status.Newf(status.InvalidBatchSize, "input %q: batch size mismatch", name)}
			}
			needsBatchChange = true
			overrides[name] = reqTensor.Shape
		case shapeDiffNonBatch:
			if policy.ShapeMode != ModeAuto {
				return Result{Decision: DecisionInvalid, Err: status.Newf(status.InvalidShape, "input %q: shape mismatch", name)}
			}
			needsReshape = true
			overrides[name] = reqTensor.Shape
		}
	}

	switch {
	case needsReshape:
		// "If both conditions hold and the model supports shape-auto,
		// RESHAPE_REQUIRED dominates" (§4.11).
		return Result{Decision: DecisionReshapeRequired, ShapeOverrides: overrides}
	case needsBatchChange:
		return Result{Decision: DecisionBatchSizeChangeRequired, ShapeOverrides: overrides}
	default:
		return Result{Decision: DecisionOK}
	}
}

type shapeDiff int

const (
	shapeDiffNone shapeDiff = iota
	shapeDiffBatchOnly
	shapeDiffNonBatch
)

// classifyShapeDiff compares a declared shape against a concrete request
// shape and reports whether they match, differ only in the leading
// (batch) dimension, or differ elsewhere.
func classifyShapeDiff(declared, request tensor.Shape) (shapeDiff, error) {
	if len(declared) != len(request) {
		return 0, fmt.Errorf("rank mismatch: declared %d, request %d", len(declared), len(request))
	}
	if len(declared) == 0 {
		return shapeDiffNone, nil
	}

	diff := shapeDiffNone
	for i, d := range declared {
		r := request[i]
		if d.Matches(r) {
			continue
		}
		if i == 0 {
			diff = shapeDiffBatchOnly
			continue
		}
		return shapeDiffNonBatch, nil
	}
	return diff, nil
}
