package rpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/spooky-finn/go-orderbook-mirror/helpers"
	"github.com/spooky-finn/go-orderbook-mirror/logger"
	"github.com/spooky-finn/go-orderbook-mirror/usecase"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

type Server struct {
	orderbookSnapshotUseCase *usecase.OrderBookSnapshotUseCase
	validationService        *ValidationService
	log                      *logger.Entry
}

func NewServer(orderbookSnapshotUseCase *usecase.OrderBookSnapshotUseCase, validationService *ValidationService) *Server {
	return &Server{
		orderbookSnapshotUseCase: orderbookSnapshotUseCase,
		validationService:        validationService,
		log:                      logger.GetLogger().WithComponent("rpc"),
	}
}

// NewGRPCServer returns a grpc.Server with the order book service registered.
func (s *Server) NewGRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts,
		grpc.ChainUnaryInterceptor(s.unaryLogger),
		grpc.ChainStreamInterceptor(s.streamLogger),
	)
	g := grpc.NewServer(opts...)
	g.RegisterService(&OrderBookServiceDesc, s)
	return g
}

// Serve listens on addr until ctx is cancelled, then stops gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	g := s.NewGRPCServer()
	errCh := make(chan error, 1)
	go func() {
		s.log.WithFields(logger.Fields{"addr": lis.Addr().String()}).Info("grpc server listening")
		errCh <- g.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		g.GracefulStop()
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) unaryLogger(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	entry := s.log.WithFields(logger.Fields{
		"request_id": helpers.NewRequestID(),
		"method":     info.FullMethod,
		"code":       status.Code(err).String(),
		"duration":   time.Since(start).String(),
	})
	if err != nil {
		entry.WithError(err).Warn("rpc failed")
	} else {
		entry.Debug("rpc served")
	}
	return resp, err
}

func (s *Server) streamLogger(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	entry := s.log.WithFields(logger.Fields{
		"request_id": helpers.NewRequestID(),
		"method":     info.FullMethod,
	})
	entry.Info("stream opened")
	err := handler(srv, ss)
	entry.WithFields(logger.Fields{"code": status.Code(err).String()}).Info("stream closed")
	return err
}
