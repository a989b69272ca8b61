package decode

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
)

// Options customizes Decode behaviour.
type Options struct {
	// WeaklyTypedInput enables lenient conversion, e.g. 42 -> "42", "7" -> int.
	// Identity and bus payloads mix numeric and string ids, so it defaults to true.
	WeaklyTypedInput bool
}

func DefaultOptions() Options {
	return Options{
		WeaklyTypedInput: true,
	}
}

func WithWeaklyTypedInput(v bool) Options {
	return Options{WeaklyTypedInput: v}
}

// DecodeMap decodes a generic JSON object into T using `json` tags.
func DecodeMap[T any](m map[string]any, opts ...Options) (*T, error) {
	if m == nil {
		return nil, fmt.Errorf("map is nil")
	}

	cfg := DefaultOptions()
	if len(opts) > 0 {
		cfg = opts[0]
	}

	var out T
	decCfg := &mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &out,
		WeaklyTypedInput: cfg.WeaklyTypedInput,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			numberHook(),
			sliceAnyToSliceStringHook(),
			jsonRawStringToMapHook(),
		),
	}

	dec, err := mapstructure.NewDecoder(decCfg)
	if err != nil {
		return nil, fmt.Errorf("new decoder: %w", err)
	}
	if err := dec.Decode(m); err != nil {
		return nil, fmt.Errorf("decode struct: %w", err)
	}
	return &out, nil
}

// DecodeJSON parses raw as a JSON object and decodes it into T.
func DecodeJSON[T any](raw []byte, opts ...Options) (*T, error) {
	m, err := Object(raw)
	if err != nil {
		return nil, err
	}
	return DecodeMap[T](m, opts...)
}

// Object parses raw into a generic map, keeping numbers as json.Number so
// large numeric ids are not rounded through float64.
func Object(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("unmarshal object: %w", err)
	}
	if m == nil {
		return nil, fmt.Errorf("not a json object")
	}
	return m, nil
}

// ReadString reads a string-ish field (string or number) from m.
func ReadString(m map[string]any, key string) (string, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, t != ""
	case json.Number:
		return t.String(), true
	case float64:
		return fmt.Sprintf("%.0f", t), true
	default:
		return "", false
	}
}

// numberHook converts json.Number into the numeric kinds mapstructure does not
// handle natively when WeaklyTypedInput is off.
func numberHook() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data any) (any, error) {
		n, ok := data.(json.Number)
		if !ok {
			return data, nil
		}
		switch to.Kind() {
		case reflect.String:
			return n.String(), nil
		case reflect.Int, reflect.Int32, reflect.Int64:
			return n.Int64()
		case reflect.Float32, reflect.Float64:
			return n.Float64()
		}
		return data, nil
	}
}

// sliceAnyToSliceStringHook converts []any into []string, only when the target is []string.
func sliceAnyToSliceStringHook() mapstructure.DecodeHookFuncType {
	strSlice := reflect.TypeOf([]string(nil))
	return func(from, to reflect.Type, data any) (any, error) {
		if to != strSlice {
			return data, nil
		}
		src, ok := data.([]any)
		if !ok {
			return data, nil
		}
		out := make([]string, 0, len(src))
		for _, it := range src {
			switch v := it.(type) {
			case string:
				out = append(out, v)
			case json.Number:
				out = append(out, v.String())
			case float64:
				out = append(out, fmt.Sprintf("%.0f", v))
			case map[string]any:
				// [{id: ...}] lists collapse to their ids
				if id, ok := ReadString(v, "id"); ok {
					out = append(out, id)
					continue
				}
				b, _ := json.Marshal(v)
				out = append(out, string(b))
			default:
				b, _ := json.Marshal(v)
				out = append(out, string(b))
			}
		}
		return out, nil
	}
}

// jsonRawStringToMapHook turns a JSON string into map[string]any for fields
// that some producers double-encode.
func jsonRawStringToMapHook() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to.Kind() != reflect.Map {
			return data, nil
		}
		s, ok := data.(string)
		if !ok {
			return data, nil
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(s), &m); err == nil {
			return m, nil
		}
		return data, nil
	}
}
