// Package web HTTP-эндпоинт состояния сканера
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/skalibog/moonshot/internal/blacklist"
	"github.com/skalibog/moonshot/internal/config"
	"github.com/skalibog/moonshot/internal/scanner"
	"github.com/skalibog/moonshot/pkg/logger"
	"go.uber.org/zap"
)

// StatusSource состояние сканера
type StatusSource interface {
	LastReport() (scanner.Report, bool)
	Symbols() []string
}

// BlacklistSource записи черного списка
type BlacklistSource interface {
	Entries() []blacklist.Entry
}

// Server HTTP-сервер состояния
type Server struct {
	cfg        config.WebConfig
	router     *gin.Engine
	httpServer *http.Server
	status     StatusSource
	blacklist  BlacklistSource
	started    time.Time
	now        func() time.Time
}

// NewServer создает сервер и регистрирует маршруты
func NewServer(cfg config.WebConfig, status StatusSource, bl BlacklistSource) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		cfg:       cfg,
		router:    router,
		status:    status,
		blacklist: bl,
		started:   time.Now(),
		now:       time.Now,
	}
	router.GET("/healthz", s.handleHealth)
	router.GET("/status", s.handleStatus)
	router.GET("/blacklist", s.handleBlacklist)

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler возвращает обработчик (для тестов и встраивания)
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start запускает сервер; блокируется до остановки.
// После Shutdown возвращает nil сразу.
func (s *Server) Start() error {
	logger.Info("Запуск HTTP-сервера", zap.String("addr", s.cfg.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ошибка HTTP-сервера: %w", err)
	}
	return nil
}

// Shutdown останавливает сервер
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	now := s.now()
	resp := gin.H{
		"ok":         true,
		"service":    "moonshot",
		"time":       now.Unix(),
		"uptime_sec": int64(now.Sub(s.started).Seconds()),
	}
	if r, ok := s.status.LastReport(); ok {
		resp["last_cycle"] = r.At.UTC().Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, resp)
}

type signalView struct {
	Key      string  `json:"key"`
	Symbol   string  `json:"symbol"`
	TF       string  `json:"tf"`
	Side     string  `json:"side"`
	Entry    float64 `json:"entry"`
	StopLoss float64 `json:"stop_loss"`
	Backscan bool    `json:"backscan"`
}

type candidateView struct {
	Symbol string  `json:"symbol"`
	TF     string  `json:"tf"`
	Side   string  `json:"side"`
	Gap    float64 `json:"gap_atr"`
	Reason string  `json:"reason"`
}

func (s *Server) handleStatus(c *gin.Context) {
	r, ok := s.status.LastReport()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"ok":      false,
			"error":   "цикл еще не завершен",
			"symbols": len(s.status.Symbols()),
		})
		return
	}

	signals := make([]signalView, 0, len(r.Signals))
	for _, sig := range r.Signals {
		signals = append(signals, signalView{
			Key: sig.Key, Symbol: sig.Symbol, TF: sig.Timeframe, Side: string(sig.Side),
			Entry: sig.Entry, StopLoss: sig.StopLoss, Backscan: sig.Backscan,
		})
	}
	candidates := make([]candidateView, 0, len(r.Candidates))
	for _, cand := range r.Candidates {
		candidates = append(candidates, candidateView{
			Symbol: cand.Symbol, TF: cand.TF, Side: string(cand.Side), Gap: cand.Gap, Reason: cand.Reason,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":          true,
		"at":          r.At.UTC().Format(time.RFC3339),
		"batch":       r.Batch,
		"range":       []int{r.Start, r.End},
		"universe":    r.Universe,
		"scanned":     r.Scanned,
		"signals":     signals,
		"pre_signals": len(r.PreSignals),
		"candidates":  candidates,
		"auto_bans":   r.AutoBans,
		"rejections":  r.Rejections,
		"open_trades": r.OpenTrades,
		"duration_ms": r.Duration.Milliseconds(),
	})
}

func (s *Server) handleBlacklist(c *gin.Context) {
	entries := s.blacklist.Entries()
	c.JSON(http.StatusOK, gin.H{
		"count":   len(entries),
		"entries": entries,
	})
}
