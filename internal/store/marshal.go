package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/phosphoros/internal/ir"
)

// marshalArgs converts call args to canonical JSON TEXT for storage, so the
// stored text hashes to the same call id on every run.
func marshalArgs(args ir.IRObject) (string, error) {
	if args == nil {
		args = ir.IRObject{}
	}
	data, err := ir.MarshalCanonical(args)
	if err != nil {
		return "", fmt.Errorf("marshal args: %w", err)
	}
	return string(data), nil
}

// unmarshalArgs parses stored JSON TEXT back to IRObject.
// Integers decode via json.Number, so values above 2^53 survive.
func unmarshalArgs(data string) (ir.IRObject, error) {
	if data == "" || data == "{}" {
		return ir.IRObject{}, nil
	}
	var obj ir.IRObject
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return nil, fmt.Errorf("unmarshal args: %w", err)
	}
	return obj, nil
}
