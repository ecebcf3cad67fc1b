package tinyorm

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// JSON returns a Transform storing a V column as JSON text.
func JSON[V any]() Transform {
	return Transform{
		Inflate: func(raw interface{}) (interface{}, error) {
			var v V
			data, ok, err := rawBytes(raw)
			if err != nil || !ok {
				return v, err
			}
			if err := json.Unmarshal(data, &v); err != nil {
				return nil, fmt.Errorf("json inflate: %w", err)
			}
			return v, nil
		},
		Deflate: func(v interface{}) (interface{}, error) {
			data, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("json deflate: %w", err)
			}
			return string(data), nil
		},
	}
}

// Msgpack returns a Transform storing a V column as a MessagePack blob.
func Msgpack[V any]() Transform {
	return Transform{
		Inflate: func(raw interface{}) (interface{}, error) {
			var v V
			data, ok, err := rawBytes(raw)
			if err != nil || !ok {
				return v, err
			}
			if err := msgpack.Unmarshal(data, &v); err != nil {
				return nil, fmt.Errorf("msgpack inflate: %w", err)
			}
			return v, nil
		},
		Deflate: func(v interface{}) (interface{}, error) {
			data, err := msgpack.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("msgpack deflate: %w", err)
			}
			return data, nil
		},
	}
}

func rawBytes(raw interface{}) ([]byte, bool, error) {
	switch r := raw.(type) {
	case nil:
		return nil, false, nil
	case []byte:
		return r, len(r) > 0, nil
	case string:
		return []byte(r), r != "", nil
	}
	return nil, false, fmt.Errorf("cannot decode column value of type %T", raw)
}
