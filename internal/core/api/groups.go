package api

import (
	"context"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/critidx/internal/core/auth"
	"github.com/solatis/critidx/internal/types"
)

// mutate runs one criteria mutation of the form {"group", "criteria"}.
func (s *Service) mutate(ctx context.Context, op string, req *structpb.Struct, apply func(string, ...types.Criteria) error) (*structpb.Struct, error) {
	group, err := requiredString(req, "group")
	if err != nil {
		return nil, err
	}
	criteria, err := criteriaField(req)
	if err != nil {
		return nil, toStatus(err)
	}
	if err := apply(group, criteria...); err != nil {
		return nil, toStatus(err)
	}
	return s.mutated(ctx, op, group, len(criteria))
}

func (s *Service) mutated(ctx context.Context, op, group string, count int) (*structpb.Struct, error) {
	st, err := s.manager.Stats(group)
	if err != nil {
		return nil, toStatus(err)
	}
	s.logger.Info("criteria mutated",
		"operation", op,
		"group", group,
		"criteria", count,
		"generation", st.Generation,
		"client", auth.ClientNameFromContext(ctx))
	return toStruct(map[string]any{
		"group":      group,
		"generation": st.Generation,
		"criteria":   st.Criteria,
	})
}

// Add inserts criteria, creating the group when missing. Re-adding an id
// with a different shape fails with InvalidArgument.
func (s *Service) Add(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.mutate(ctx, "add", req, s.manager.Add)
}

// Index is Add under its bulk-load name.
func (s *Service) Index(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.mutate(ctx, "index", req, s.manager.Index)
}

// Update replaces criteria by id whatever their shape.
func (s *Service) Update(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.mutate(ctx, "update", req, s.manager.Update)
}

// Delete removes criteria by the ids in "ids" or of the "criteria" documents.
func (s *Service) Delete(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	group, err := requiredString(req, "group")
	if err != nil {
		return nil, err
	}
	if _, ok := req.GetFields()["ids"]; !ok {
		return s.mutate(ctx, "delete", req, s.manager.Delete)
	}
	ids, err := stringList(req, "ids")
	if err != nil {
		return nil, err
	}
	if err := s.manager.DeleteByID(group, ids...); err != nil {
		return nil, toStatus(err)
	}
	return s.mutated(ctx, "delete", group, len(ids))
}

// DropGroup removes a group with all of its criteria.
func (s *Service) DropGroup(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	group, err := requiredString(req, "group")
	if err != nil {
		return nil, err
	}
	if err := s.manager.DropGroup(group); err != nil {
		return nil, toStatus(err)
	}
	s.logger.Info("group dropped", "group", group, "client", auth.ClientNameFromContext(ctx))
	return toStruct(map[string]any{"group": group})
}

// ListGroups returns the bound group names.
func (s *Service) ListGroups(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return toStruct(map[string]any{"groups": s.manager.Groups()})
}

// Stats returns the counters of a group.
func (s *Service) Stats(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	group, err := requiredString(req, "group")
	if err != nil {
		return nil, err
	}
	st, err := s.manager.Stats(group)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(st)
}

// ReplaceIndex binds "old" to the group currently named "new".
func (s *Service) ReplaceIndex(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	oldName, err := requiredString(req, "old")
	if err != nil {
		return nil, err
	}
	newName, err := requiredString(req, "new")
	if err != nil {
		return nil, err
	}
	if err := s.manager.Replace(oldName, newName); err != nil {
		return nil, toStatus(err)
	}
	return s.mutated(ctx, "replace", oldName, 0)
}
