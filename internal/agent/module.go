package agent

import (
	"context"
	"fmt"
	"os"

	"github.com/zapboard/zapboard/internal/bind"
	"github.com/zapboard/zapboard/internal/broadcast"
	"github.com/zapboard/zapboard/internal/channel"
	"github.com/zapboard/zapboard/internal/config"
	"github.com/zapboard/zapboard/internal/logging"
	"github.com/zapboard/zapboard/internal/qr"
	"github.com/zapboard/zapboard/internal/restapi"
	"github.com/zapboard/zapboard/internal/state"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved invocation options passed to the fx module.
type Params struct {
	ConfigPath string
	// WatchBroadcastID, when set, reconciles an in-flight broadcast
	// and reports its progress until it reaches a terminal status.
	WatchBroadcastID string
}

// Module returns the fx module for the dashboard agent, composing all
// providers and lifecycle hooks. Every state container is an explicit
// instance owned by this composition root and injected into consumers.
func Module(p Params) fx.Option {
	return fx.Module("agent",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideSignal,
			provideChannel,
			provideRESTClient,
			provideBot,
			provideStats,
			provideFeed,
			provideIndex,
			provideLogs,
			provideBinder,
			provideReconciler,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		// First run: persist the defaults so the file is editable.
		cfg = config.Default()
		if err := config.Save(path, cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(config.LogPath(), cfg.ServerURL)
}

func provideSignal() *state.Signal {
	return state.NewSignal()
}

func provideChannel(cfg *config.Config, logger *zap.Logger) *channel.Channel {
	return channel.New(cfg.ServerURL, logger)
}

func provideRESTClient(cfg *config.Config, logger *zap.Logger) *restapi.Client {
	return restapi.NewClient(cfg.APIBaseURL, logger)
}

func provideBot(signal *state.Signal) *state.Bot {
	return state.NewBot(signal)
}

func provideStats(ch *channel.Channel, signal *state.Signal) *state.StatsBoard {
	return state.NewStatsBoard(ch, signal)
}

func provideFeed(signal *state.Signal) *state.Feed {
	return state.NewFeed(signal)
}

func provideIndex(signal *state.Signal) *state.Index {
	return state.NewIndex(signal)
}

func provideLogs(cfg *config.Config, signal *state.Signal) *state.Logs {
	logs := state.NewLogs(signal)
	logs.SetLevelFilter(cfg.LogLevelFilter)
	return logs
}

func provideBinder(ch *channel.Channel, api *restapi.Client, bot *state.Bot, stats *state.StatsBoard, feed *state.Feed, convs *state.Index, logs *state.Logs, logger *zap.Logger) *bind.Binder {
	return bind.New(ch, api, bot, stats, feed, convs, logs, logger)
}

func provideReconciler(api *restapi.Client, signal *state.Signal, logger *zap.Logger) *broadcast.Reconciler {
	return broadcast.NewReconciler(api, signal, logger)
}

func registerLifecycle(lc fx.Lifecycle, p Params, cfg *config.Config, ch *channel.Channel, binder *bind.Binder, rec *broadcast.Reconciler, bot *state.Bot, signal *state.Signal, logger *zap.Logger) {
	var cancel context.CancelFunc

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			ctx, c := context.WithCancel(context.Background())
			cancel = c

			binder.Bind()
			go report(ctx, signal, bot, rec, logger)

			go func() {
				if err := ch.Connect(ctx); err != nil {
					logger.Error("initial connect failed", zap.Error(err))
					return
				}
				level := cfg.LogLevelFilter
				if level == state.LevelAll {
					level = ""
				}
				if err := binder.SubscribeLogs(ctx, level); err != nil {
					logger.Warn("log subscription failed", zap.Error(err))
				}
				if err := binder.RefreshConversations(ctx); err != nil {
					logger.Warn("conversation refresh failed", zap.Error(err))
				}
			}()

			if p.WatchBroadcastID != "" {
				rec.Start(ctx, p.WatchBroadcastID)
			}

			return nil
		},
		OnStop: func(_ context.Context) error {
			if cancel != nil {
				cancel()
			}
			rec.Stop()
			binder.Close()
			_ = ch.Close()
			logger.Info("agent stopped")
			return nil
		},
	})
}

// report watches the refresh signal and surfaces state the operator
// needs without a screen: QR payloads are rendered to stdout, pairing
// codes and broadcast progress go to the log.
func report(ctx context.Context, signal *state.Signal, bot *state.Bot, rec *broadcast.Reconciler, logger *zap.Logger) {
	var lastQR, lastPairing string
	var lastSent int

	for {
		select {
		case <-ctx.Done():
			return
		case <-signal.C():
		}

		s := bot.Snapshot()
		if s.QRCode != "" && s.QRCode != lastQR {
			lastQR = s.QRCode
			fmt.Fprintf(os.Stdout, "\nScan this QR code with WhatsApp:\n\n%s\n", qr.Render(s.QRCode))
		}
		if s.PairingCode != "" && s.PairingCode != lastPairing {
			lastPairing = s.PairingCode
			logger.Info("pairing code received", zap.String("code", s.PairingCode))
		}

		b, prog, errStr := rec.Snapshot()
		if errStr != "" {
			logger.Warn("broadcast reconcile error", zap.String("error", errStr))
		}
		if b != nil && (prog.Sent != lastSent || b.Terminal()) {
			lastSent = prog.Sent
			logger.Info("broadcast progress",
				zap.String("id", b.ID),
				zap.String("status", b.Status),
				zap.Int("sent", prog.Sent),
				zap.Int("failed", prog.Failed),
				zap.Int("remaining", prog.Remaining),
				zap.Int("percentage", prog.Percentage))
		}
	}
}
