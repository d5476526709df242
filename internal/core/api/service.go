// Package api implements the critidx.v1.CriteriaIndex gRPC service on top
// of engine.Manager. Requests and responses are structpb.Struct documents
// whose fields mirror the JSON wire shapes of the codec package.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/critidx/internal/codec"
	"github.com/solatis/critidx/internal/core/store"
	"github.com/solatis/critidx/internal/engine"
	"github.com/solatis/critidx/internal/types"
)

// Service implements CriteriaIndexServer.
// Thin orchestration layer delegating to engine and store.
type Service struct {
	manager *engine.Manager
	store   *store.Store
	logger  *slog.Logger
}

var _ CriteriaIndexServer = (*Service)(nil)

// NewService creates a service over manager. st may be nil, in which case
// persistence methods fail with FAILED_PRECONDITION and ratification
// results are kept in memory only.
func NewService(manager *engine.Manager, st *store.Store, logger *slog.Logger) (*Service, error) {
	if manager == nil {
		return nil, errors.New("manager cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{manager: manager, store: st, logger: logger}, nil
}

func stringField(req *structpb.Struct, key string) string {
	return req.GetFields()[key].GetStringValue()
}

func requiredString(req *structpb.Struct, key string) (string, error) {
	s := stringField(req, key)
	if s == "" {
		return "", invalidArgument("%s is required", key)
	}
	return s, nil
}

func boolField(req *structpb.Struct, key string) bool {
	return req.GetFields()[key].GetBoolValue()
}

// jsonField re-encodes a request field as JSON for the codec and engine
// decoders.
func jsonField(req *structpb.Struct, key string) ([]byte, error) {
	v, ok := req.GetFields()[key]
	if !ok {
		return nil, invalidArgument("%s is required", key)
	}
	data, err := json.Marshal(v.AsInterface())
	if err != nil {
		return nil, invalidArgument("%s: %v", key, err)
	}
	return data, nil
}

func stringList(req *structpb.Struct, key string) ([]string, error) {
	list := req.GetFields()[key].GetListValue()
	out := make([]string, 0, len(list.GetValues()))
	for i, v := range list.GetValues() {
		s, ok := v.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, invalidArgument("%s[%d] must be a string", key, i)
		}
		out = append(out, s.StringValue)
	}
	return out, nil
}

// criteriaField decodes the "criteria" field: one wire criteria or a list.
func criteriaField(req *structpb.Struct) ([]types.Criteria, error) {
	data, err := jsonField(req, "criteria")
	if err != nil {
		return nil, err
	}
	return codec.DecodeCriteriaList(data)
}

// toStruct converts any JSON-encodable value into a response document.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return structpb.NewStruct(m)
}

// rawJSON embeds an already encoded JSON document in a response.
func rawJSON(data []byte) json.RawMessage { return json.RawMessage(data) }
