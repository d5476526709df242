package api

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/critidx/internal/core/auth"
)

var errNoStore = status.Error(codes.FailedPrecondition, "persistence is not configured")

// Ratify runs a ratification of "group"; "full" checks every criteria and
// every sampled request. Results are stored when persistence is configured.
func (s *Service) Ratify(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	group, err := requiredString(req, "group")
	if err != nil {
		return nil, err
	}
	res, err := s.manager.Ratify(group, boolField(req, "full"))
	if err != nil {
		return nil, toStatus(err)
	}
	if s.store != nil {
		if err := s.store.SaveRatification(ctx, res); err != nil {
			s.logger.Warn("ratification not stored", "group", group, "run_id", res.RunID, "error", err)
		}
	}
	return toStruct(res)
}

// GetRatificationResult returns the latest ratification of "group". When
// the group has not been ratified in this process the stored run is used.
func (s *Service) GetRatificationResult(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	group, err := requiredString(req, "group")
	if err != nil {
		return nil, err
	}
	res, err := s.manager.RatificationResult(group)
	if err != nil {
		return nil, toStatus(err)
	}
	if res.RunID == "" && s.store != nil {
		stored, err := s.store.LatestRatification(ctx, group)
		if err == nil {
			res = stored
		}
	}
	return toStruct(res)
}

// ExportIndexGroup returns the export document of "group" in "document".
func (s *Service) ExportIndexGroup(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	group, err := requiredString(req, "group")
	if err != nil {
		return nil, err
	}
	data, err := s.manager.Export(group)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{"group": group, "document": rawJSON(data)})
}

// ImportIndexGroup builds "group" from "document", an export document or a
// criteria list.
func (s *Service) ImportIndexGroup(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	group, err := requiredString(req, "group")
	if err != nil {
		return nil, err
	}
	data, err := jsonField(req, "document")
	if err != nil {
		return nil, err
	}
	if err := s.manager.Import(group, data); err != nil {
		return nil, toStatus(err)
	}
	return s.mutated(ctx, "import", group, 0)
}

// Snapshot returns the index state of "group". With "persist" the snapshot
// is stored compressed and only its record is returned.
func (s *Service) Snapshot(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	group, err := requiredString(req, "group")
	if err != nil {
		return nil, err
	}
	if !boolField(req, "persist") {
		data, err := s.manager.Snapshot(group)
		if err != nil {
			return nil, toStatus(err)
		}
		return toStruct(map[string]any{"snapshot": rawJSON(data)})
	}

	if s.store == nil {
		return nil, errNoStore
	}
	rec, err := s.store.PersistSnapshot(ctx, s.manager, group)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{
		"snapshot_id": rec.ID,
		"generation":  rec.Generation,
		"compression": rec.Compression,
		"raw_size":    rec.RawSize,
	})
}

// PersistGroup stores the current export of "group".
func (s *Service) PersistGroup(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	group, err := requiredString(req, "group")
	if err != nil {
		return nil, err
	}
	if s.store == nil {
		return nil, errNoStore
	}
	rec, err := s.store.PersistGroup(ctx, s.manager, group)
	if err != nil {
		return nil, toStatus(err)
	}
	s.logger.Info("group persisted",
		"group", group,
		"generation", rec.Generation,
		"client", auth.ClientNameFromContext(ctx))
	return toStruct(map[string]any{
		"group":          rec.Group,
		"generation":     rec.Generation,
		"criteria_count": rec.CriteriaCount,
	})
}
