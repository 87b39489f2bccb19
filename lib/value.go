package lib

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Object values travel as CBOR: byte strings, text strings, integers and nested
// arrays/maps decode back to the same shape.
var (
	valueEncMode cbor.EncMode
	valueDecMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
	}
	valueEncMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthForbidden,
	}
	valueDecMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder mode: %v", err))
	}
}

// EncodeValue renders v as an object payload.
func EncodeValue(v any) ([]byte, error) {
	data, err := valueEncMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding value: %w", err)
	}
	return data, nil
}

// DecodeValue parses an object payload into its generic shape: []byte, string,
// uint64/int64, []any or map[any]any.
func DecodeValue(data []byte) (any, error) {
	var v any
	if err := valueDecMode.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decoding value: %w", err)
	}
	return v, nil
}

// UnmarshalValue decodes an object payload into a typed destination.
func UnmarshalValue(data []byte, v any) error {
	if err := valueDecMode.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding value: %w", err)
	}
	return nil
}
