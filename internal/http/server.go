package http

import (
	"context"
	"errors"
	nethttp "net/http"
	"time"

	"github.com/gin-gonic/gin"

	"carpool/internal/logger"
)

type Server struct {
	srv *nethttp.Server
	log logger.ILogger
}

func NewServer(addr string, engine *gin.Engine, log logger.ILogger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	return &Server{
		srv: &nethttp.Server{
			Addr:         addr,
			Handler:      engine,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		log: log,
	}
}

// Start blocks until the listener stops. A clean shutdown returns nil.
func (s *Server) Start() error {
	s.log.Info("http server listening", logger.String("addr", s.srv.Addr))
	err := s.srv.ListenAndServe()
	if errors.Is(err, nethttp.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
