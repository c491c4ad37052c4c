package gradebook

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Server exposes a Recorder as the grade-book gRPC service.
type Server struct {
	sink Recorder
}

// Register adds the grade-book service backed by sink to s.
func Register(s grpc.ServiceRegistrar, sink Recorder) {
	s.RegisterService(&serviceDesc, &Server{sink: sink})
}

type gradeBookServer interface {
	recordGrade(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error)
}

func (s *Server) recordGrade(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	grade, err := gradeFromStruct(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := s.sink.RecordGrade(ctx, grade); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, status.FromContextError(err).Err()
		}
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &emptypb.Empty{}, nil
}

func recordGradeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(gradeBookServer).recordGrade(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodRecordGrade}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(gradeBookServer).recordGrade(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*gradeBookServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RecordGrade", Handler: recordGradeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "cluehunt/gradebook/v1/gradebook.proto",
}
