package grpctp

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/hanpama/braid/internal/braid"
	language "github.com/hanpama/braid/internal/language"
)

func field(md protoreflect.MessageDescriptor, name protoreflect.Name) protoreflect.FieldDescriptor {
	fd := md.Fields().ByName(name)
	if fd == nil {
		panic(fmt.Sprintf("grpctp: %s has no field %s", md.FullName(), name))
	}
	return fd
}

func encodeRequest(md protoreflect.MessageDescriptor, q *braid.Query) (*dynamicpb.Message, error) {
	vars, err := encodeJSON(q.Variables)
	if err != nil {
		return nil, fmt.Errorf("variables: %w", err)
	}
	msg := dynamicpb.NewMessage(md)
	msg.Set(field(md, "query"), protoreflect.ValueOfString(q.Text()))
	if q.OperationName != "" {
		msg.Set(field(md, "operation_name"), protoreflect.ValueOfString(q.OperationName))
	}
	msg.Set(field(md, "variables_json"), protoreflect.ValueOfString(vars))
	return msg, nil
}

func decodeRequest(msg protoreflect.Message) (*braid.Query, error) {
	md := msg.Descriptor()
	doc, err := language.ParseQuery(msg.Get(field(md, "query")).String())
	if err != nil {
		return nil, err
	}
	vars, err := decodeObject(msg.Get(field(md, "variables_json")).String())
	if err != nil {
		return nil, fmt.Errorf("variables: %w", err)
	}
	return &braid.Query{
		Document:      doc,
		OperationName: msg.Get(field(md, "operation_name")).String(),
		Variables:     vars,
	}, nil
}

func encodeResponse(md protoreflect.MessageDescriptor, res *braid.QueryResult) (*dynamicpb.Message, error) {
	msg := dynamicpb.NewMessage(md)
	if res.Data != nil {
		data, err := encodeJSON(res.Data)
		if err != nil {
			return nil, fmt.Errorf("data: %w", err)
		}
		msg.Set(field(md, "data_json"), protoreflect.ValueOfString(data))
	}
	errs := msg.Mutable(field(md, "errors")).List()
	for _, e := range res.Errors {
		el := errs.NewElement()
		if err := encodeError(el.Message(), e); err != nil {
			return nil, err
		}
		errs.Append(el)
	}
	return msg, nil
}

func encodeError(msg protoreflect.Message, e *braid.Error) error {
	md := msg.Descriptor()
	msg.Set(field(md, "message"), protoreflect.ValueOfString(e.Message))
	locs := msg.Mutable(field(md, "locations")).List()
	for _, loc := range e.Locations {
		el := locs.NewElement()
		lmd := el.Message().Descriptor()
		el.Message().Set(field(lmd, "line"), protoreflect.ValueOfInt32(int32(loc.Line)))
		el.Message().Set(field(lmd, "column"), protoreflect.ValueOfInt32(int32(loc.Column)))
		locs.Append(el)
	}
	path := msg.Mutable(field(md, "path")).List()
	for _, seg := range e.Path {
		el := path.NewElement()
		smd := el.Message().Descriptor()
		switch v := seg.(type) {
		case string:
			el.Message().Set(field(smd, "field"), protoreflect.ValueOfString(v))
		case int:
			el.Message().Set(field(smd, "index"), protoreflect.ValueOfInt32(int32(v)))
		case float64:
			el.Message().Set(field(smd, "index"), protoreflect.ValueOfInt32(int32(v)))
		default:
			return fmt.Errorf("error path segment %v: unsupported type %T", seg, seg)
		}
		path.Append(el)
	}
	if len(e.Extensions) > 0 {
		ext, err := encodeJSON(e.Extensions)
		if err != nil {
			return fmt.Errorf("extensions: %w", err)
		}
		msg.Set(field(md, "extensions_json"), protoreflect.ValueOfString(ext))
	}
	return nil
}

func decodeResponse(msg protoreflect.Message) (*braid.QueryResult, error) {
	md := msg.Descriptor()
	out := &braid.QueryResult{}
	data, err := decodeObject(msg.Get(field(md, "data_json")).String())
	if err != nil {
		return nil, fmt.Errorf("data: %w", err)
	}
	out.Data = data

	errs := msg.Get(field(md, "errors")).List()
	for i := 0; i < errs.Len(); i++ {
		em := errs.Get(i).Message()
		emd := em.Descriptor()
		e := &braid.Error{Message: em.Get(field(emd, "message")).String()}

		locs := em.Get(field(emd, "locations")).List()
		for j := 0; j < locs.Len(); j++ {
			lm := locs.Get(j).Message()
			lmd := lm.Descriptor()
			e.Locations = append(e.Locations, braid.Location{
				Line:   int(lm.Get(field(lmd, "line")).Int()),
				Column: int(lm.Get(field(lmd, "column")).Int()),
			})
		}

		path := em.Get(field(emd, "path")).List()
		for j := 0; j < path.Len(); j++ {
			sm := path.Get(j).Message()
			smd := sm.Descriptor()
			switch which := sm.WhichOneof(smd.Oneofs().ByName("segment")); {
			case which == nil:
				return nil, fmt.Errorf("error %q: empty path segment", e.Message)
			case which.Name() == "index":
				e.Path = append(e.Path, int(sm.Get(which).Int()))
			default:
				e.Path = append(e.Path, sm.Get(which).String())
			}
		}

		ext, err := decodeObject(em.Get(field(emd, "extensions_json")).String())
		if err != nil {
			return nil, fmt.Errorf("error extensions: %w", err)
		}
		e.Extensions = ext
		out.Errors = append(out.Errors, e)
	}
	return out, nil
}

func encodeJSON(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// decodeObject parses a JSON object. The empty string decodes to nil.
func decodeObject(s string) (map[string]any, error) {
	if s == "" {
		return nil, nil
	}
	if !gjson.Valid(s) {
		return nil, fmt.Errorf("invalid JSON")
	}
	res := gjson.Parse(s)
	if res.Type == gjson.Null {
		return nil, nil
	}
	if !res.IsObject() {
		return nil, fmt.Errorf("expected a JSON object, got %s", res.Type)
	}
	return res.Value().(map[string]any), nil
}
