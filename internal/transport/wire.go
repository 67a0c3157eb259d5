// Package transport is the thin HTTP/WebSocket outer shell around
// pkg/engine: gorilla/mux routes for health, model/pipeline introspection
// and predict, plus a gorilla/websocket event stream. Grounded on the
// teacher's cmd/server/handlers + internal/realtime pairing, narrowed
// since request validation, scheduling and DAG execution all live in
// internal/core -- this layer only marshals wire JSON and calls Engine.
package transport

import (
	"encoding/base64"
	"fmt"

	"github.com/inferencemesh/modelmesh/internal/core/tensor"
)

// wireTensor is the JSON demo encoding of a tensor.Tensor: dtype names
// one of tensor.ElementType's String() values, shape is the concrete
// dimension list, and data is the raw byte buffer base64-encoded. This
// mirrors Tensor{ElementType,Shape,Data} field-for-field rather than
// introducing a richer, type-specific wire format.
type wireTensor struct {
	DType string  `json:"dtype"`
	Shape []int64 `json:"shape"`
	Data  string  `json:"data"`
}

func elementTypeFromWire(name string) (tensor.ElementType, error) {
	switch name {
	case "fp32":
		return tensor.FP32, nil
	case "fp16":
		return tensor.FP16, nil
	case "fp64":
		return tensor.FP64, nil
	case "i8":
		return tensor.I8, nil
	case "i16":
		return tensor.I16, nil
	case "i32":
		return tensor.I32, nil
	case "i64":
		return tensor.I64, nil
	case "u8":
		return tensor.U8, nil
	case "u16":
		return tensor.U16, nil
	case "bool":
		return tensor.Bool, nil
	case "string":
		return tensor.String, nil
	default:
		return tensor.Undefined, fmt.Errorf("transport: unknown dtype %q", name)
	}
}

func (w wireTensor) toTensor() (tensor.Tensor, error) {
	et, err := elementTypeFromWire(w.DType)
	if err != nil {
		return tensor.Tensor{}, err
	}
	data, err := base64.StdEncoding.DecodeString(w.Data)
	if err != nil {
		return tensor.Tensor{}, fmt.Errorf("transport: decoding tensor data: %w", err)
	}
	shape := make(tensor.Shape, len(w.Shape))
	for i, v := range w.Shape {
		shape[i] = tensor.Static(v)
	}
	return tensor.Tensor{ElementType: et, Shape: shape, Data: data}, nil
}

func fromTensor(t tensor.Tensor) wireTensor {
	return wireTensor{
		DType: t.ElementType.String(),
		Shape: t.Shape.StaticDims(),
		Data:  base64.StdEncoding.EncodeToString(t.Data),
	}
}

func decodeRequest(in map[string]wireTensor) (map[string]tensor.Tensor, error) {
	out := make(map[string]tensor.Tensor, len(in))
	for name, wt := range in {
		t, err := wt.toTensor()
		if err != nil {
			return nil, fmt.Errorf("transport: input %q: %w", name, err)
		}
		out[name] = t
	}
	return out, nil
}

func encodeResponse(in map[string]tensor.Tensor) map[string]wireTensor {
	out := make(map[string]wireTensor, len(in))
	for name, t := range in {
		out[name] = fromTensor(t)
	}
	return out
}
