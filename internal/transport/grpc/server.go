package grpc

import (
	"context"
	"encoding/json"
	"net"
	"strings"

	appErrors "cardledger/internal/errors"
	"cardledger/internal/model"
	"cardledger/internal/service"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthgrpc "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

type Server struct {
	svc    service.LedgerService
	srv    *grpc.Server
	health *health.Server
	addr   string
	log    *logrus.Logger
}

func NewServer(addr string, svc service.LedgerService, log *logrus.Logger) *Server {
	s := &Server{svc: svc, addr: addr, log: log, health: health.NewServer()}
	s.srv = grpc.NewServer(grpc.ChainUnaryInterceptor(s.logUnary))

	RegisterCardLedgerServer(s.srv, s)
	RegisterEventServiceServer(s.srv, s)
	healthgrpc.RegisterHealthServer(s.srv, s.health)
	return s
}

func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

func (s *Server) Serve(lis net.Listener) error {
	s.health.SetServingStatus("", healthgrpc.HealthCheckResponse_SERVING)
	s.log.WithField("addr", lis.Addr().String()).Info("gRPC server is running")
	return s.srv.Serve(lis)
}

func (s *Server) Stop(ctx context.Context) error {
	s.health.Shutdown()
	s.srv.GracefulStop()
	return nil
}

func (s *Server) ApplyCharge(ctx context.Context, req *ChargeRequest) (*ChargeResponse, error) {
	return s.mutate(ctx, req, s.svc.ApplyCharge)
}

func (s *Server) ReverseCharge(ctx context.Context, req *ChargeRequest) (*ChargeResponse, error) {
	return s.mutate(ctx, req, s.svc.ReverseCharge)
}

func (s *Server) mutate(ctx context.Context, req *ChargeRequest, op func(context.Context, model.ChargeRequest) (*model.ChargeResult, error)) (*ChargeResponse, error) {
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "INVALID_ARGUMENT: amount %q is not a decimal", req.Amount)
	}

	res, err := op(ctx, model.ChargeRequest{
		CardID:        req.CardId,
		Amount:        amount,
		CallerID:      req.CallerId,
		TransactionID: req.TransactionId,
	})
	if err != nil {
		return nil, toStatus(err)
	}

	return &ChargeResponse{
		CardId:         res.CardID,
		CurrentBalance: res.CurrentBalance.String(),
		AvailableLimit: res.AvailableLimit.String(),
	}, nil
}

func (s *Server) GetCardState(ctx context.Context, req *GetCardStateRequest) (*CardStateResponse, error) {
	state, err := s.svc.GetCardState(ctx, req.CardId)
	if err != nil {
		return nil, toStatus(err)
	}
	return &CardStateResponse{
		CardId:         state.CardID,
		CreditLimit:    state.CreditLimit.String(),
		CurrentBalance: state.CurrentBalance.String(),
		AvailableLimit: state.AvailableLimit.String(),
		IsActive:       state.IsActive,
		UpdatedAt:      state.UpdatedAt,
	}, nil
}

// Publish receives events from remote ledger instances when the grpc bus is in use
// and records them as ledger entries.
func (s *Server) Publish(ctx context.Context, req *EventRequest) (*EventResponse, error) {
	if req.Topic != model.TopicBalanceChanged {
		return &EventResponse{Success: false, ErrorMessage: "unknown topic " + req.Topic}, nil
	}

	var event model.BalanceChangedEvent
	if err := json.Unmarshal(req.Payload, &event); err != nil {
		return &EventResponse{Success: false, ErrorMessage: err.Error()}, nil
	}
	if err := s.svc.RecordEntry(ctx, event); err != nil {
		s.log.WithError(err).WithField("event_id", event.EventID).Error("grpc: failed to record ledger entry")
		return &EventResponse{Success: false, ErrorMessage: err.Error()}, nil
	}
	return &EventResponse{Success: true}, nil
}

func (s *Server) logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	resp, err := handler(ctx, req)
	if err != nil {
		s.log.WithError(err).WithField("method", info.FullMethod).Debug("grpc call failed")
	}
	return resp, err
}

var statusCodes = map[string]codes.Code{
	appErrors.ErrNotFound.Code:        codes.NotFound,
	appErrors.ErrCardInactive.Code:    codes.FailedPrecondition,
	appErrors.ErrUnauthorized.Code:    codes.PermissionDenied,
	appErrors.ErrInvalidArgument.Code: codes.InvalidArgument,
	appErrors.ErrValidation.Code:      codes.InvalidArgument,
	appErrors.ErrLimitExceeded.Code:   codes.FailedPrecondition,
	appErrors.ErrInvalidState.Code:    codes.FailedPrecondition,
	appErrors.ErrContention.Code:      codes.Aborted,
	"REQUEST_CANCELED":                codes.Canceled,
	"DEADLINE_EXCEEDED":               codes.DeadlineExceeded,
}

// toStatus converts a ledger error into a gRPC status whose message starts with
// the ledger error code, so clients can tell e.g. LIMIT_EXCEEDED from INVALID_STATE.
func toStatus(err error) error {
	appErr := appErrors.FromError(err)
	code, ok := statusCodes[appErr.Code]
	if !ok {
		code = codes.Internal
	}
	return status.Error(code, appErr.Code+": "+appErr.Message)
}

// ErrorCode extracts the ledger error code from a status produced by toStatus.
func ErrorCode(err error) string {
	st, ok := status.FromError(err)
	if !ok {
		return ""
	}
	code, _, found := strings.Cut(st.Message(), ":")
	if !found {
		return ""
	}
	return code
}
