package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/max-winderbaum/MicOn/pkg/capture"
	"github.com/max-winderbaum/MicOn/pkg/devwatch"
	"github.com/max-winderbaum/MicOn/pkg/keeper"
	"github.com/max-winderbaum/MicOn/pkg/permission"
	"github.com/max-winderbaum/MicOn/pkg/prefstore"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the keep-alive session and supervise it until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		subsystem, err := capture.NewSubsystem(log.Logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := subsystem.Close(); err != nil {
				log.Warn().Err(err).Msg("audio subsystem shutdown failed")
			}
		}()

		prefs := prefstore.NewFileStore(afero.NewOsFs(), cfg.Prefs.Path)
		perm := permission.NewStatic(permission.Granted)

		k := keeper.New(
			subsystem,
			prefs,
			perm,
			capture.NewSharedSession(subsystem, log.Logger),
			capture.NewDirectTap(subsystem, log.Logger),
			keeper.Config{
				ReconnectDebounce: cfg.Audit.ReconnectDebounce,
				DisconnectGrace:   cfg.Audit.DisconnectGrace,
				ActivityTimeout:   cfg.Audit.ActivityTimeout,
				Listener:          logStatus,
			},
			log.Logger,
		)

		watcher := devwatch.New(subsystem, k, cfg.Watcher.PollInterval, cfg.Watcher.Settle, log.Logger)
		watcher.Start()
		defer watcher.Close()

		k.Start()

		ticker := time.NewTicker(cfg.Audit.Interval)
		defer ticker.Stop()

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

		log.Info().Dur("audit_interval", cfg.Audit.Interval).Msg("micon running")
		for {
			select {
			case <-ticker.C:
				k.AuditTick()
			case sig := <-stop:
				log.Info().Str("signal", sig.String()).Msg("shutting down")
				k.Stop()
				return nil
			}
		}
	},
}

// logStatus is the presentation hook: every keeper transition surfaces as a
// structured log line.
func logStatus(st keeper.Status, reason keeper.Reason) {
	evt := log.Info().
		Str("state", string(st.State)).
		Str("reason", string(reason)).
		Bool("desired", st.DesiredActive).
		Bool("actual", st.ActualActive).
		Bool("fallback", st.UsingFallback).
		Bool("permission", st.PermissionGranted)
	if st.BoundDevice != nil {
		evt = evt.Str("device_id", st.BoundDevice.ID).Str("device_name", st.BoundDevice.Name)
	}
	if st.Strategy != "" {
		evt = evt.Str("strategy", st.Strategy)
	}
	evt.Msg("session status")
}
