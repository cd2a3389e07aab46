// Package calc implements the calculator tools exposed by the calcmcp host.
package calc

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/localrivet/calcmcp/protocol"
	"github.com/localrivet/calcmcp/util/schema"
)

// InputLimit bounds the magnitude of each addend. Inputs outside the bound
// are rejected before the sum is computed.
const InputLimit = int64(1e18)

// AddArgs are the parameters of the add tool. json.Number keeps integer and
// floating-point input distinguishable so the result preserves the operands'
// numeric type.
type AddArgs struct {
	A json.Number `json:"a" description:"The first number to add"`
	B json.Number `json:"b" description:"The second number to add"`
}

// AddTool returns the descriptor for the add tool.
func AddTool() protocol.Tool {
	return protocol.Tool{
		Name:        "add",
		Description: "Adds two numbers together and returns the result.",
		InputSchema: schema.FromStruct(AddArgs{}),
	}
}

// HandleAdd executes the add tool: it decodes the two numeric arguments,
// checks the magnitude bound, and returns the sum as text content. Integer
// plus integer yields an integer; any floating-point operand yields a
// floating-point result.
func HandleAdd(ctx context.Context, args map[string]interface{}) ([]protocol.Content, error) {
	var in AddArgs
	if err := schema.Decode(args, &in); err != nil {
		return nil, protocol.NewError(protocol.CodeInvalidParams, "invalid arguments for add: %v", err)
	}

	text, err := Sum(in.A, in.B)
	if err != nil {
		return nil, err
	}
	return []protocol.Content{protocol.NewTextContent(text)}, nil
}

// Sum adds two numbers and renders the result. It returns an error when
// either operand is not a finite number or exceeds the input bound.
func Sum(a, b json.Number) (string, error) {
	ai, aErr := a.Int64()
	bi, bErr := b.Int64()
	if aErr == nil && bErr == nil {
		if abs64(ai) > InputLimit || abs64(bi) > InputLimit {
			return "", protocol.NewError(protocol.CodeInvalidParams,
				"input out of bounds: |a| and |b| must be <= %d", InputLimit)
		}
		return strconv.FormatInt(ai+bi, 10), nil
	}

	af, err := a.Float64()
	if err != nil {
		return "", protocol.NewError(protocol.CodeInvalidParams, "parameter 'a' is not numeric: %v", err)
	}
	bf, err := b.Float64()
	if err != nil {
		return "", protocol.NewError(protocol.CodeInvalidParams, "parameter 'b' is not numeric: %v", err)
	}
	if math.IsNaN(af) || math.IsInf(af, 0) || math.IsNaN(bf) || math.IsInf(bf, 0) {
		return "", protocol.NewError(protocol.CodeInvalidParams, "operands must be finite")
	}
	if math.Abs(af) > float64(InputLimit) || math.Abs(bf) > float64(InputLimit) {
		return "", protocol.NewError(protocol.CodeInvalidParams,
			"input out of bounds: |a| and |b| must be <= %d", InputLimit)
	}
	return formatFloat(af + bf), nil
}

// formatFloat renders a floating-point sum. Integral values keep a trailing
// ".0" so the caller can tell a float result from an integer one.
func formatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if v == math.Trunc(v) {
		return fmt.Sprintf("%s.0", s)
	}
	return s
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
