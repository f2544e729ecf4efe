package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/skalibog/moonshot/internal/blacklist"
	"github.com/skalibog/moonshot/internal/config"
	"github.com/skalibog/moonshot/internal/exchange"
	"github.com/skalibog/moonshot/internal/lock"
	"github.com/skalibog/moonshot/internal/notify"
	"github.com/skalibog/moonshot/internal/scanner"
	"github.com/skalibog/moonshot/internal/storage"
	"github.com/skalibog/moonshot/internal/trades"
	"github.com/skalibog/moonshot/internal/ui"
	"github.com/skalibog/moonshot/internal/web"
	"github.com/skalibog/moonshot/pkg/logger"
	"go.uber.org/zap"
)

func main() {
	// Обработка флагов командной строки
	configPath := flag.String("config", "config.yaml", "путь к файлу конфигурации")
	envPath := flag.String("env", ".env", "dotenv-файл с секретами (необязательный)")
	withUI := flag.Bool("ui", false, "включить терминальную панель")
	once := flag.Bool("once", false, "выполнить один цикл и выйти")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	uiEnabled := (cfg.UI.Enabled || *withUI) && !*once
	if uiEnabled {
		// вывод в консоль ломает альтернативный экран
		cfg.Log.Console = false
	}
	if err := logger.Init(cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка инициализации логгера: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, uiEnabled, *once); err != nil {
		logger.Error("Завершение с ошибкой", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, uiEnabled, once bool) error {
	instance, err := lock.Acquire(cfg.Files.LockFile)
	if err != nil {
		return err
	}
	defer instance.Release()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	journal, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("ошибка инициализации журнала: %w", err)
	}
	defer journal.Close()

	notifier, err := buildNotifier(cfg)
	if err != nil {
		return err
	}
	defer notifier.Close()

	bl := blacklist.NewEngine(cfg.Blacklist)
	sc := scanner.New(cfg, scanner.Deps{
		Exchange:  exchange.NewBinanceClient(cfg.Exchange),
		Blacklist: bl,
		Trades:    trades.OpenStore(cfg.Files.TradesFile),
		Cache:     trades.LoadKeyCache(cfg.Files.CacheFile),
		PreCache:  trades.LoadKeyCache(cfg.Files.PreCacheFile),
		Notifier:  notifier,
		Journal:   journal,
	})

	logger.Info("Moonshot запущен",
		zap.String("lock", instance.Path()),
		zap.Strings("timeframes", cfg.Scanner.Timeframes),
		zap.Int("poll_seconds", cfg.Scanner.PollSeconds),
		zap.Bool("ui", uiEnabled))

	if once {
		if err := sc.Init(ctx); err != nil {
			return err
		}
		_, err := sc.RunCycle(ctx)
		return err
	}

	if cfg.Web.Enabled {
		srv := web.NewServer(cfg.Web, sc, bl)
		go func() {
			if err := srv.Start(); err != nil {
				logger.Error("HTTP-сервер остановлен", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if !uiEnabled {
		return sc.Run(ctx)
	}

	// Панель в основном потоке, сканер в горутине; выход из панели останавливает сканер
	dashboard := ui.NewDashboard(cfg.UI, filepath.Join(cfg.Log.Dir, "moonshot.json.log"))
	sc.AddObserver(dashboard)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- sc.Run(ctx)
	}()

	uiErr := dashboard.Run(ctx)
	cancel()
	runErr := <-done
	if uiErr != nil {
		return uiErr
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func buildNotifier(cfg *config.Config) (notify.Notifier, error) {
	var notifiers notify.Multi

	if cfg.Telegram.Enabled {
		notifiers = append(notifiers, notify.NewTelegram(cfg.Telegram))
	} else {
		notifiers = append(notifiers, notify.Console{})
	}
	if cfg.Kafka.Enabled {
		k, err := notify.NewKafka(cfg.Kafka)
		if err != nil {
			return nil, fmt.Errorf("ошибка подключения к Kafka: %w", err)
		}
		notifiers = append(notifiers, k)
	}
	return notifiers, nil
}
