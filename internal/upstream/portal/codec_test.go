package portal

import (
	"reflect"
	"testing"
)

func TestCodecRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		in   map[string]any
	}{
		{"strings", map[string]any{"idp": "Google", "code": "abc123"}},
		{"integers", map[string]any{"expiresIn": int64(3600), "count": int64(-7)}},
		{"bools", map[string]any{"isEmailRequired": true, "debug": false}},
		{"nested", map[string]any{
			"userInfo": map[string]any{"email": "a@b.c", "userId": "u-1"},
			"list":     []any{"x", int64(2), map[string]any{"k": "v"}},
		}},
		{"unicode", map[string]any{"name": "Łukasz 测试 🚀"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := encodeBody(tc.in)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			out, err := decodeBody(data)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !reflect.DeepEqual(out, any(tc.in)) {
				t.Fatalf("round trip mismatch:\n in: %#v\nout: %#v", tc.in, out)
			}
		})
	}
}

func TestDecodeBodyRejectsGarbage(t *testing.T) {
	if _, err := decodeBody([]byte{0xff, 0x00, 0x12}); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}
