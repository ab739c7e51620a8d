package remote

import (
	"fmt"

	"snapvault/internal/segment"
)

// Msgpack decodes a frame's array elements as `any`, landing integers
// as int64/uint64, byte strings as []byte, and so on depending on the
// encoder; these helpers normalize that into the concrete types each
// RPC method expects.

func argObjectID(args []any, i int) (segment.ObjectID, error) {
	var id segment.ObjectID
	b, err := argBytes(args, i)
	if err != nil {
		return id, err
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("remote: object id must be %d bytes, got %d", len(id), len(b))
	}
	copy(id[:], b)
	return id, nil
}

func argBytes(args []any, i int) ([]byte, error) {
	if i >= len(args) {
		return nil, fmt.Errorf("remote: missing argument %d", i)
	}
	switch v := args[i].(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("remote: argument %d has unexpected type %T", i, args[i])
	}
}

func argBool(args []any, i int) (bool, error) {
	if i >= len(args) {
		return false, fmt.Errorf("remote: missing argument %d", i)
	}
	b, ok := args[i].(bool)
	if !ok {
		return false, fmt.Errorf("remote: argument %d has unexpected type %T", i, args[i])
	}
	return b, nil
}

func argInt(args []any, i int) (int, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("remote: missing argument %d", i)
	}
	switch v := args[i].(type) {
	case int64:
		return int(v), nil
	case uint64:
		return int(v), nil
	case int:
		return v, nil
	default:
		return 0, fmt.Errorf("remote: argument %d has unexpected type %T", i, args[i])
	}
}

func argFloat(args []any, i int) (float64, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("remote: missing argument %d", i)
	}
	switch v := args[i].(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("remote: argument %d has unexpected type %T", i, args[i])
	}
}

func asUint64(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case int64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	default:
		return 0, false
	}
}
