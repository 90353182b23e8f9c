package handler

import (
	"context"
	"encoding/json"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"

	"github.com/rl1809/stock-orders/internal/core/domain"
	"github.com/rl1809/stock-orders/internal/core/service"
)

// JSONCodecName is the content subtype clients pass with grpc.CallContentSubtype.
const JSONCodecName = "json"

const pickingServiceName = "stockorders.PickingService"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return JSONCodecName }

type OpenRequest struct {
	OrderID  string `json:"orderId"`
	ReadOnly bool   `json:"readOnly"`
}

type ItemRequest struct {
	OrderID  string `json:"orderId"`
	DocID    string `json:"docId"`
	Quantity *int   `json:"quantity,omitempty"`
}

type NotesRequest struct {
	OrderID string `json:"orderId"`
	Notes   string `json:"notes"`
}

type CompleteRequest struct {
	OrderID string `json:"orderId"`
}

type CloseRequest struct {
	OrderID string `json:"orderId"`
}

type CloseResponse struct{}

type ProgressRequest struct{}

type ProgressResponse struct {
	Active []domain.ProgressSummary `json:"active"`
}

// PickingServer is the gRPC surface of picking, used by handheld scanners.
type PickingServer interface {
	Open(context.Context, *OpenRequest) (*service.SessionView, error)
	Confirm(context.Context, *ItemRequest) (*service.SessionView, error)
	Edit(context.Context, *ItemRequest) (*service.SessionView, error)
	SetNotes(context.Context, *NotesRequest) (*service.SessionView, error)
	Complete(context.Context, *CompleteRequest) (*service.CompletionResult, error)
	Close(context.Context, *CloseRequest) (*CloseResponse, error)
	ActiveProgress(context.Context, *ProgressRequest) (*ProgressResponse, error)
}

type GRPCHandler struct {
	picking *service.PickingService
}

func NewGRPCHandler(picking *service.PickingService) *GRPCHandler {
	return &GRPCHandler{picking: picking}
}

// Register attaches the handler to s.
func (h *GRPCHandler) Register(s grpc.ServiceRegistrar) {
	s.RegisterService(&PickingServiceDesc, h)
}

func (h *GRPCHandler) Open(ctx context.Context, req *OpenRequest) (*service.SessionView, error) {
	sess, err := h.picking.Open(ctx, req.OrderID, req.ReadOnly)
	if err != nil {
		return nil, grpcError(err)
	}
	view := sess.View()
	return &view, nil
}

func (h *GRPCHandler) Confirm(ctx context.Context, req *ItemRequest) (*service.SessionView, error) {
	return h.mutate(req.OrderID, func(sess *service.PickSession) error {
		qty, ok := defaultQuantity(sess, req.DocID)
		if !ok {
			return domain.ErrItemNotFound
		}
		if req.Quantity != nil {
			qty = *req.Quantity
		}
		return sess.Confirm(req.DocID, qty)
	})
}

func (h *GRPCHandler) Edit(ctx context.Context, req *ItemRequest) (*service.SessionView, error) {
	return h.mutate(req.OrderID, func(sess *service.PickSession) error {
		return sess.Edit(req.DocID)
	})
}

func (h *GRPCHandler) SetNotes(ctx context.Context, req *NotesRequest) (*service.SessionView, error) {
	return h.mutate(req.OrderID, func(sess *service.PickSession) error {
		return sess.SetNotes(req.Notes)
	})
}

func (h *GRPCHandler) Complete(ctx context.Context, req *CompleteRequest) (*service.CompletionResult, error) {
	result, err := h.picking.Complete(ctx, req.OrderID)
	if err != nil {
		return nil, grpcError(err)
	}
	return &result, nil
}

func (h *GRPCHandler) Close(ctx context.Context, req *CloseRequest) (*CloseResponse, error) {
	h.picking.Close(req.OrderID)
	return &CloseResponse{}, nil
}

func (h *GRPCHandler) ActiveProgress(ctx context.Context, req *ProgressRequest) (*ProgressResponse, error) {
	return &ProgressResponse{Active: h.picking.ActiveProgress()}, nil
}

func (h *GRPCHandler) mutate(orderID string, fn func(*service.PickSession) error) (*service.SessionView, error) {
	sess, err := h.picking.Session(orderID)
	if err != nil {
		return nil, grpcError(err)
	}
	if err := fn(sess); err != nil {
		return nil, grpcError(err)
	}
	view := sess.View()
	return &view, nil
}

func grpcError(err error) error {
	var remote *domain.RemoteError
	switch {
	case errors.Is(err, domain.ErrInvalidQuantity):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrReadOnly):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrItemNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrNotCompletable),
		errors.Is(err, domain.ErrSessionCompleted):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrCompletionInProgress):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.As(err, &remote):
		return status.Error(codes.Unavailable, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

func unaryHandler[Req any, Resp any](method string, call func(PickingServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(PickingServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + pickingServiceName + "/" + method,
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(PickingServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var PickingServiceDesc = grpc.ServiceDesc{
	ServiceName: pickingServiceName,
	HandlerType: (*PickingServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("Open", PickingServer.Open),
		unaryHandler("Confirm", PickingServer.Confirm),
		unaryHandler("Edit", PickingServer.Edit),
		unaryHandler("SetNotes", PickingServer.SetNotes),
		unaryHandler("Complete", PickingServer.Complete),
		unaryHandler("Close", PickingServer.Close),
		unaryHandler("ActiveProgress", PickingServer.ActiveProgress),
	},
	Streams: []grpc.StreamDesc{},
}
