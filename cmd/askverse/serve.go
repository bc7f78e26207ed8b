package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"askverse/internal/adapter/httpapi"
	"askverse/internal/infra/logger"
	"askverse/internal/usecase/auth"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket server",
	Long: `Run the query API until SIGINT or SIGTERM.

When Confluence and sync are enabled the document sync runs on its schedule,
and once at startup if sync.run_on_start is set.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	rt, err := initRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	sc, err := initSources(rt)
	if err != nil {
		return err
	}
	orch, err := initOrchestrator(ctx, rt, sc)
	if err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	syncSvc := initDocSync(rt, sc)
	sched, err := initScheduler(rt, syncSvc)
	if err != nil {
		return err
	}

	deps := httpapi.Deps{
		Queries:   orch,
		Repo:      rt.Repo,
		Auth:      auth.NewService(rt.Repo, logger.Component(rt.Logger, "auth")),
		APIs:      sc.APIs,
		Documents: sc.Vectors,
		Logger:    logger.Component(rt.Logger, "http"),
	}
	if syncSvc != nil {
		deps.Sync = syncSvc
	}
	srv := httpapi.NewServer(ctx, deps, rt.Config.Server)

	if sched != nil {
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer sched.Stop()
		if rt.Config.Sync.RunOnStart {
			if err := sched.RunNow(syncTaskName); err != nil {
				rt.Logger.Warn("initial sync not started", "error", err)
			}
		}
	}

	rt.Logger.Info("askverse starting",
		"addr", rt.Config.Server.Addr(),
		"require_auth", rt.Config.Server.RequireAuth,
		"agents", orch.Kinds())

	if err := srv.Start(ctx); err != nil {
		return err
	}
	rt.Logger.Info("askverse stopped")
	return nil
}
