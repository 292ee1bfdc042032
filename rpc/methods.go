package rpc

import (
	"context"
	"errors"

	"github.com/spooky-finn/go-orderbook-mirror/domain"
	"github.com/spooky-finn/go-orderbook-mirror/helpers"
	"github.com/spooky-finn/go-orderbook-mirror/logger"
	"github.com/spooky-finn/go-orderbook-mirror/usecase"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

func (s *Server) GetOrderBook(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	provider, symbol, err := s.validationService.Selection(in)
	if err != nil {
		return nil, err
	}

	frame, err := s.orderbookSnapshotUseCase.GetOrderBookSnapshot(provider, symbol)
	if err != nil {
		return nil, toStatus(err)
	}
	return frameToStruct(frame)
}

// WatchOrderBook streams every frame of the selection until the client goes away.
// An optional "tick" field regroups the book before the first frame.
func (s *Server) WatchOrderBook(in *structpb.Struct, stream grpc.ServerStream) error {
	provider, symbol, err := s.validationService.Selection(in)
	if err != nil {
		return err
	}
	tick, hasTick, err := s.validationService.Tick(in)
	if err != nil {
		return err
	}

	sub, err := s.orderbookSnapshotUseCase.Watch(provider, symbol)
	if err != nil {
		return toStatus(err)
	}
	defer func() {
		sub.Unsubscribe()
		if s.orderbookSnapshotUseCase.CloseIfIdle(provider, symbol) {
			s.log.WithFields(logger.Fields{"provider": provider, "symbol": symbol.String()}).Debug("last watcher left, session stopped")
		}
	}()

	if hasTick {
		if err := s.orderbookSnapshotUseCase.SetTick(provider, symbol, tick); err != nil {
			return toStatus(err)
		}
	}

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-sub.Stream:
			if !ok {
				return status.Error(codes.Unavailable, "order book session closed")
			}
			msg, err := frameToStruct(frame)
			if err != nil {
				return err
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		}
	}
}

// SetPaused pauses the pair's shared session, so it applies to every watcher of the pair.
// The response reports this as scope "session".
func (s *Server) SetPaused(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	provider, symbol, err := s.validationService.Selection(in)
	if err != nil {
		return nil, err
	}
	paused := in.GetFields()["paused"].GetBoolValue()

	if err := s.orderbookSnapshotUseCase.SetPaused(provider, symbol, paused); err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]interface{}{
		"provider": provider,
		"market":   symbol.String(),
		"paused":   paused,
		"scope":    "session",
	})
}

func (s *Server) ListPairs(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	provider, quote, err := s.validationService.Quote(in)
	if err != nil {
		return nil, err
	}

	pairs, err := s.orderbookSnapshotUseCase.ListPairs(ctx, provider, quote)
	if errors.Is(err, domain.ErrProviderNotFound) {
		return nil, toStatus(err)
	}
	if err != nil {
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	list := make([]interface{}, len(pairs))
	for i, p := range pairs {
		list[i] = p
	}
	return structpb.NewStruct(map[string]interface{}{
		"provider": provider,
		"quote":    quote,
		"pairs":    list,
	})
}

func frameToStruct(frame usecase.Frame) (*structpb.Struct, error) {
	m, err := helpers.ToJsonMap(frame)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode frame: %v", err)
	}
	msg, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode frame: %v", err)
	}
	return msg, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, domain.ErrProviderNotFound), errors.Is(err, domain.ErrOrderBookNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, usecase.ErrSessionStopped):
		return status.Error(codes.Unavailable, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
