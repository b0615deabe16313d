package grpc

import (
	"context"
	"time"

	"google.golang.org/grpc"
)

type ChargeRequest struct {
	CardId        string `json:"card_id"`
	Amount        string `json:"amount"`
	CallerId      string `json:"caller_id"`
	TransactionId string `json:"transaction_id,omitempty"`
}

type ChargeResponse struct {
	CardId         string `json:"card_id"`
	CurrentBalance string `json:"current_balance"`
	AvailableLimit string `json:"available_limit"`
}

type GetCardStateRequest struct {
	CardId string `json:"card_id"`
}

type CardStateResponse struct {
	CardId         string    `json:"card_id"`
	CreditLimit    string    `json:"credit_limit"`
	CurrentBalance string    `json:"current_balance"`
	AvailableLimit string    `json:"available_limit"`
	IsActive       bool      `json:"is_active"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type EventRequest struct {
	Topic   string `json:"topic"`
	Payload []byte `json:"payload"`
}

type EventResponse struct {
	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type CardLedgerServer interface {
	ApplyCharge(context.Context, *ChargeRequest) (*ChargeResponse, error)
	ReverseCharge(context.Context, *ChargeRequest) (*ChargeResponse, error)
	GetCardState(context.Context, *GetCardStateRequest) (*CardStateResponse, error)
}

type EventServiceServer interface {
	Publish(context.Context, *EventRequest) (*EventResponse, error)
}

const (
	cardLedgerService = "cardledger.CardLedger"
	eventService      = "cardledger.EventService"

	methodApplyCharge   = "/" + cardLedgerService + "/ApplyCharge"
	methodReverseCharge = "/" + cardLedgerService + "/ReverseCharge"
	methodGetCardState  = "/" + cardLedgerService + "/GetCardState"
	methodPublish       = "/" + eventService + "/Publish"
)

func RegisterCardLedgerServer(s grpc.ServiceRegistrar, srv CardLedgerServer) {
	s.RegisterService(&cardLedgerServiceDesc, srv)
}

func RegisterEventServiceServer(s grpc.ServiceRegistrar, srv EventServiceServer) {
	s.RegisterService(&eventServiceDesc, srv)
}

var cardLedgerServiceDesc = grpc.ServiceDesc{
	ServiceName: cardLedgerService,
	HandlerType: (*CardLedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ApplyCharge",
			Handler: unaryHandler(methodApplyCharge, func(srv any, ctx context.Context, req *ChargeRequest) (any, error) {
				return srv.(CardLedgerServer).ApplyCharge(ctx, req)
			}),
		},
		{
			MethodName: "ReverseCharge",
			Handler: unaryHandler(methodReverseCharge, func(srv any, ctx context.Context, req *ChargeRequest) (any, error) {
				return srv.(CardLedgerServer).ReverseCharge(ctx, req)
			}),
		},
		{
			MethodName: "GetCardState",
			Handler: unaryHandler(methodGetCardState, func(srv any, ctx context.Context, req *GetCardStateRequest) (any, error) {
				return srv.(CardLedgerServer).GetCardState(ctx, req)
			}),
		},
	},
	Streams: []grpc.StreamDesc{},
}

var eventServiceDesc = grpc.ServiceDesc{
	ServiceName: eventService,
	HandlerType: (*EventServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Publish",
			Handler: unaryHandler(methodPublish, func(srv any, ctx context.Context, req *EventRequest) (any, error) {
				return srv.(EventServiceServer).Publish(ctx, req)
			}),
		},
	},
	Streams: []grpc.StreamDesc{},
}

// unaryHandler adapts a typed call into the grpc.MethodDesc handler shape,
// decoding the request and running it through the server interceptor chain.
func unaryHandler[Req any](fullMethod string, call func(srv any, ctx context.Context, req *Req) (any, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv, ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}
