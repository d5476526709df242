package api

import (
	"context"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/critidx/internal/codec"
	"github.com/solatis/critidx/internal/engine"
)

// Search returns the criteria ids of "group" matched by "request".
// "skip_validation" returns raw index candidates.
func (s *Service) Search(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	group, err := requiredString(req, "group")
	if err != nil {
		return nil, err
	}
	request, err := jsonField(req, "request")
	if err != nil {
		return nil, err
	}
	var opts []engine.SearchOption
	if boolField(req, "skip_validation") {
		opts = append(opts, engine.SkipValidation())
	}
	ids, err := s.manager.Search(group, request, opts...)
	if err != nil {
		return nil, toStatus(err)
	}
	if ids == nil {
		ids = []string{}
	}
	return toStruct(map[string]any{"ids": ids})
}

// Evaluate runs one criteria against "request" without an index. The
// criteria is either inline in "criteria" or named by "group" and "id".
func (s *Service) Evaluate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	request, err := jsonField(req, "request")
	if err != nil {
		return nil, err
	}

	var ok bool
	if id := stringField(req, "id"); id != "" {
		group, err := requiredString(req, "group")
		if err != nil {
			return nil, err
		}
		ok, err = s.manager.EvaluateByID(group, id, request)
		if err != nil {
			return nil, toStatus(err)
		}
	} else {
		data, err := jsonField(req, "criteria")
		if err != nil {
			return nil, err
		}
		c, err := codec.DecodeCriteria(data)
		if err != nil {
			return nil, toStatus(err)
		}
		ok, err = s.manager.Evaluate(c, request)
		if err != nil {
			return nil, toStatus(err)
		}
	}
	return toStruct(map[string]any{"result": ok})
}

// Debug evaluates an inline criteria and returns the trace, both structured
// and rendered as a table.
func (s *Service) Debug(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	data, err := jsonField(req, "criteria")
	if err != nil {
		return nil, err
	}
	request, err := jsonField(req, "request")
	if err != nil {
		return nil, err
	}
	c, err := codec.DecodeCriteria(data)
	if err != nil {
		return nil, toStatus(err)
	}
	trace, err := s.manager.Debug(c, request)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{
		"result":   trace.Result,
		"trace":    trace,
		"rendered": trace.String(),
	})
}
