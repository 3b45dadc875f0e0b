package app

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Server жизненный цикл HTTP-сервера: Start в фоне, Stop с graceful shutdown
type Server struct {
	echo   *echo.Echo
	addr   string
	logger *zap.Logger

	wg   sync.WaitGroup
	errs chan error
}

func NewServer(e *echo.Echo, addr string, logger *zap.Logger) *Server {
	return &Server{
		echo:   e,
		addr:   addr,
		logger: logger,
		errs:   make(chan error, 1),
	}
}

// Start запускает сервер в отдельной горутине
func (s *Server) Start() {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.addr))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server failed", zap.Error(err))
			s.errs <- err
		}
	}()
}

// Errors канал с фатальной ошибкой сервера
func (s *Server) Errors() <-chan error {
	return s.errs
}

// Stop останавливает сервер, дожидаясь активных запросов не дольше timeout
func (s *Server) Stop(timeout time.Duration) error {
	s.logger.Info("Stopping HTTP server...")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := s.echo.Shutdown(ctx)
	s.wg.Wait()

	if err != nil {
		return err
	}
	s.logger.Info("HTTP server stopped")
	return nil
}
