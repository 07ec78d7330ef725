package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"cdpflow/internal/config"
	"cdpflow/internal/logger"
	"cdpflow/pkg/api"
	"cdpflow/pkg/protospec"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "连接调试端点并开始拦截，Ctrl+C 退出",
		RunE:  runInterception,
	}
}

func runInterception(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	l := logger.New(logger.Config{
		Level:   cfg.Log.Level,
		Writers: cfg.Log.Writer,
		File:    cfg.Log.File,
	})

	svc := api.NewService(l, api.Config{
		DevToolsURL:    cfg.DevTools.URL,
		SessionLogPath: cfg.SessionLog.Path,
		SqliteDSN:      cfg.Sqlite.Dsn,
		SqlitePrefix:   cfg.Sqlite.Prefix,
		EventBuffer:    cfg.DevTools.EventBuffer,
	})

	if cfg.Fetch.Enabled {
		fetch := &protospec.FetchSettings{HandleAuth: cfg.Fetch.HandleAuthRequests}
		for _, p := range cfg.Fetch.URLPatterns {
			fetch.Patterns = append(fetch.Patterns, protospec.RequestPattern{
				URLPattern: p,
				Stage:      "Request",
			})
		}
		if err := svc.Configure(protospec.DomainsSettings{Fetch: fetch}); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.Enter(ctx); err != nil {
		return err
	}
	defer svc.Exit()
	l.Info("拦截已启动，等待退出信号")

	go func() {
		for evt := range svc.Events() {
			l.Debug("拦截结果",
				"target", string(evt.Target),
				"class", evt.Class,
				"action", evt.Action,
				"outcome", evt.Outcome,
			)
		}
	}()

	<-ctx.Done()
	l.Info("收到退出信号，开始收尾")
	return nil
}
