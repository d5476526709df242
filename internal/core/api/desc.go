package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "critidx.v1.CriteriaIndex"

// CriteriaIndexServer is the server API of the CriteriaIndex service.
type CriteriaIndexServer interface {
	Add(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Index(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Update(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Delete(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DropGroup(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListGroups(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Stats(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Search(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Evaluate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Debug(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Ratify(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetRatificationResult(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ExportIndexGroup(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ImportIndexGroup(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ReplaceIndex(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Snapshot(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PersistGroup(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(CriteriaIndexServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(CriteriaIndexServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(CriteriaIndexServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

// ServiceDesc describes the CriteriaIndex service for grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CriteriaIndexServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Add", CriteriaIndexServer.Add),
		unary("Index", CriteriaIndexServer.Index),
		unary("Update", CriteriaIndexServer.Update),
		unary("Delete", CriteriaIndexServer.Delete),
		unary("DropGroup", CriteriaIndexServer.DropGroup),
		unary("ListGroups", CriteriaIndexServer.ListGroups),
		unary("Stats", CriteriaIndexServer.Stats),
		unary("Search", CriteriaIndexServer.Search),
		unary("Evaluate", CriteriaIndexServer.Evaluate),
		unary("Debug", CriteriaIndexServer.Debug),
		unary("Ratify", CriteriaIndexServer.Ratify),
		unary("GetRatificationResult", CriteriaIndexServer.GetRatificationResult),
		unary("ExportIndexGroup", CriteriaIndexServer.ExportIndexGroup),
		unary("ImportIndexGroup", CriteriaIndexServer.ImportIndexGroup),
		unary("ReplaceIndex", CriteriaIndexServer.ReplaceIndex),
		unary("Snapshot", CriteriaIndexServer.Snapshot),
		unary("PersistGroup", CriteriaIndexServer.PersistGroup),
	},
	Streams: []grpc.StreamDesc{},
}

// RegisterCriteriaIndexServer registers srv with s.
func RegisterCriteriaIndexServer(s grpc.ServiceRegistrar, srv CriteriaIndexServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Client calls CriteriaIndex methods over a client connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Call invokes method with req and returns the response document.
func (c *Client) Call(ctx context.Context, method string, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
