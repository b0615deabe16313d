package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"cardledger/internal/service"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type Server struct {
	srv *http.Server
	log *logrus.Logger
}

func NewServer(addr string, svc service.LedgerService, jwtSecret []byte, log *logrus.Logger) *Server {
	r := mux.NewRouter()
	h := NewHandler(svc, log)
	h.Register(r, AuthMiddleware(jwtSecret))

	return &Server{
		log: log,
		srv: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}
}

func (s *Server) Start(ctx context.Context) error {
	s.log.WithField("addr", s.srv.Addr).Info("HTTP server is running")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
