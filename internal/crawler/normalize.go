package crawler

import (
	"encoding/json"

	"go.uber.org/zap"
)

// collect flattens arbitrarily nested queue input into requests. Entries
// that are neither addresses nor requests are logged and skipped.
func collect(items []any, logger *zap.Logger) []Request {
	var (
		out   []Request
		index int
	)
	var walk func(v any)
	walk = func(v any) {
		switch item := v.(type) {
		case []any:
			for _, inner := range item {
				walk(inner)
			}
			return
		case []string:
			for _, inner := range item {
				walk(inner)
			}
			return
		case []Request:
			for _, inner := range item {
				walk(inner)
			}
			return
		case []*Request:
			for _, inner := range item {
				walk(inner)
			}
			return
		}
		req, err := toRequest(index, v)
		index++
		if err != nil {
			logger.Debug("skipping queue entry", zap.Error(err))
			return
		}
		out = append(out, req)
	}
	for _, item := range items {
		walk(item)
	}
	return out
}

func toRequest(index int, v any) (Request, error) {
	var req Request
	switch item := v.(type) {
	case nil:
		return Request{}, &ValidationError{Index: index, Value: v, Reason: "nil entry"}
	case string:
		req = Request{Spec: Spec{URI: item}}
	case Request:
		req = item
	case *Request:
		if item == nil {
			return Request{}, &ValidationError{Index: index, Value: v, Reason: "nil entry"}
		}
		req = *item
	case Spec:
		req = Request{Spec: item}
	default:
		return Request{}, &ValidationError{Index: index, Value: v, Reason: "unsupported entry type"}
	}
	if req.URI == "" && req.URL == "" && req.HTML == "" && req.ResolveURI == nil {
		return Request{}, &ValidationError{Index: index, Value: v, Reason: ErrNoAddress.Error()}
	}
	return req, nil
}

// normalize merges engine defaults into a private copy of the request's
// Spec and encodes its JSON payload so the result is clone-safe. The
// caller's headers, form and slices are never written.
func (o *Options) normalize(req *Request) error {
	req.Spec = req.Spec.Clone()
	o.merge(&req.Spec)
	if req.JSON != nil && req.JSONBody == nil {
		raw, err := json.Marshal(req.JSON)
		if err != nil {
			return &CloneError{Field: "JSON", Err: err}
		}
		req.JSONBody = raw
	}
	if req.Jar == nil {
		req.Jar = o.Jar
	}
	return nil
}
