package portal

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// The portal speaks Smithy RPC v2 with CBOR envelopes. Requests are small
// string-keyed maps; responses decode into map[string]any with integers
// normalized to int64 so field extraction does not care about CBOR's
// signed/unsigned split.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		IntDec:         cbor.IntDecConvertSignedOrFail,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

func encodeBody(v any) ([]byte, error) {
	data, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cbor encode: %w", err)
	}
	return data, nil
}

func decodeBody(data []byte) (any, error) {
	var v any
	if err := decMode.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("cbor decode: %w", err)
	}
	return v, nil
}
