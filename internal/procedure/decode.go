package procedure

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/google/jsonschema-go/jsonschema"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

var (
	protoMessageType = reflect.TypeFor[proto.Message]()
	deferredType     = reflect.TypeFor[Deferred]()
)

// DecodeArg converts an argument value into A.
//
// Protobuf message types (*T implementing proto.Message) are decoded with
// protojson. Every other type is decoded with encoding/json from the JSON
// rendering of v. A nil or empty value decodes to the zero value of A.
func DecodeArg[A any](v *structpb.Value) (A, error) {
	var arg A
	t := reflect.TypeFor[A]()
	isNull := v == nil || v.GetKind() == nil
	if t.Kind() == reflect.Pointer && t.Implements(protoMessageType) {
		msg := reflect.New(t.Elem()).Interface().(proto.Message)
		if !isNull {
			if _, ok := v.GetKind().(*structpb.Value_NullValue); !ok {
				b, err := protojson.Marshal(v)
				if err != nil {
					return arg, err
				}
				if err := protojson.Unmarshal(b, msg); err != nil {
					return arg, fmt.Errorf("decode %s: %w", t, err)
				}
			}
		}
		return msg.(A), nil
	}
	if isNull {
		return arg, nil
	}
	b, err := protojson.Marshal(v)
	if err != nil {
		return arg, err
	}
	if err := json.Unmarshal(b, &arg); err != nil {
		return arg, fmt.Errorf("decode %s: %w", t, err)
	}
	return arg, nil
}

// ValueOf converts a Go value into an argument value. Values that
// structpb.NewValue does not accept directly (structs, typed slices and maps)
// go through their JSON encoding; proto messages through protojson.
func ValueOf(v any) (*structpb.Value, error) {
	switch x := v.(type) {
	case *structpb.Value:
		return x, nil
	case proto.Message:
		b, err := protojson.Marshal(x)
		if err != nil {
			return nil, err
		}
		return parseValue(b)
	}
	if pv, err := structpb.NewValue(v); err == nil {
		return pv, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return parseValue(b)
}

// MustValueOf is ValueOf for values known to be encodable.
func MustValueOf(v any) *structpb.Value {
	pv, err := ValueOf(v)
	if err != nil {
		panic(err)
	}
	return pv
}

func parseValue(b []byte) (*structpb.Value, error) {
	pv := &structpb.Value{}
	if err := protojson.Unmarshal(b, pv); err != nil {
		return nil, err
	}
	return pv, nil
}

// schemaFor infers a JSON Schema for T. Protobuf messages, deferred results
// and types the inference does not support yield nil.
func schemaFor[T any]() (schema *jsonschema.Schema) {
	defer func() {
		if recover() != nil {
			schema = nil
		}
	}()
	t := reflect.TypeFor[T]()
	if t.Implements(protoMessageType) || t.Implements(deferredType) {
		return nil
	}
	s, err := jsonschema.For[T](nil)
	if err != nil {
		return nil
	}
	return s
}
