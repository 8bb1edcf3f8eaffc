package push

import (
	"context"
	"errors"
	"io"
	"sync/atomic"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// FrameHandler receives each frame from a stream.
type FrameHandler func(ctx context.Context, frame *FrameMessage) error

// ledstripServer is the handler type of the Ledstrip service.
type ledstripServer interface {
	stream(grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ledstripServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Stream",
			Handler:       streamHandler,
			ClientStreams: true,
		},
	},
	Metadata: "glow/ledstrip",
}

func streamHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(ledstripServer).stream(stream)
}

// Server receives frame streams.
type Server struct {
	handler FrameHandler
	logger  *zap.Logger
	frames  atomic.Uint64
}

// NewServer creates a server that hands every frame to handler.
func NewServer(handler FrameHandler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{handler: handler, logger: logger.Named("push")}
}

// Register adds the Ledstrip service to g.
func (s *Server) Register(g *grpc.Server) {
	g.RegisterService(&serviceDesc, s)
}

// Frames returns the number of frames received across all streams.
func (s *Server) Frames() uint64 {
	return s.frames.Load()
}

func (s *Server) stream(stream grpc.ServerStream) error {
	ctx := stream.Context()
	var session string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(SessionHeader); len(v) > 0 {
			session = v[0]
		}
	}
	logger := s.logger.With(zap.String("session", session))
	logger.Info("stream opened")

	var n uint64
	for {
		var msg FrameMessage
		err := stream.RecvMsg(&msg)
		if errors.Is(err, io.EOF) {
			logger.Info("stream closed", zap.Uint64("frames", n))
			return stream.SendMsg(&Ack{Frames: n})
		}
		if err != nil {
			logger.Warn("stream failed", zap.Uint64("frames", n), zap.Error(err))
			return err
		}

		n++
		s.frames.Add(1)
		if err := s.handler(ctx, &msg); err != nil {
			return status.Errorf(codes.Internal, "frame %d: %v", msg.Seq, err)
		}
	}
}
