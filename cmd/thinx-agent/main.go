// thinx-agent THiNX 设备代理：定时 check-in、MQTT 推送处理与固件更新
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"thinx-client/common/logger"
	"thinx-client/internal/config"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	appName     = "thinx-agent"
	exitRestart = 3
)

var (
	version = "dev"

	eventCount int64
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     appName,
	Short:   "THiNX 设备代理",
	Version: version,
	Long: `THiNX 设备代理。

配置全部来自环境变量（THINX_*、STORE_*、REDIS_*、DB_*、JOURNAL_*、UPDATE_*、LOG_*）。

示例:
  # 启动代理
  thinx-agent run

  # 执行一次 check-in 并输出决策
  thinx-agent checkin

  # 查看已保存的设备身份
  thinx-agent identity`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "启动代理（定时 check-in + MQTT 会话）",
	RunE:  runAgent,
}

var checkinCmd = &cobra.Command{
	Use:   "checkin",
	Short: "执行一次 check-in 周期",
	RunE:  runCheckin,
}

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "输出当前设备身份",
	RunE:  runIdentity,
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "输出最近的生命周期事件（需要 JOURNAL_ENABLED）",
	RunE:  runEvents,
}

func init() {
	eventsCmd.Flags().Int64VarP(&eventCount, "count", "n", 20, "事件条数")
	rootCmd.AddCommand(runCmd, checkinCmd, identityCmd, eventsCmd)
}

// setup 加载配置并初始化日志
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, appName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init logger: %w", err)
	}
	return cfg, log, nil
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newAgent(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to create agent", zap.Error(err))
		return err
	}
	defer a.Close()

	errChan := make(chan error, 1)
	go func() {
		errChan <- a.svc.Run(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down",
			zap.String("signal", sig.String()),
		)
		cancel()
		<-errChan
	case err := <-errChan:
		if err != nil {
			log.Error("Agent error", zap.Error(err))
			return err
		}
	}

	log.Info("Device agent stopped")
	return nil
}

func runCheckin(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newAgent(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	defer a.svc.Close()

	// 先建立 MQTT 会话，安装确认等状态报告才能发出
	d, err := a.svc.CheckinWithSession(ctx)
	if err != nil {
		return err
	}

	out := map[string]any{
		"outcome": d.Outcome.String(),
		"reason":  d.Reason,
		"phase":   a.svc.Phase().String(),
	}
	if d.Intent != nil {
		out["target_url"] = d.Intent.TargetURL
	}
	return printJSON(cmd, out)
}

func runIdentity(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	a, err := newAgent(context.Background(), cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	id := a.svc.Identity()
	return printJSON(cmd, map[string]any{
		"alias":          id.Alias,
		"owner":          id.Owner,
		"udid":           id.UDID,
		"apikey":         id.MaskedAPIKey(),
		"mac":            id.MAC,
		"platform":       id.Platform,
		"commit":         id.CommitID,
		"version":        id.VersionID,
		"firmware":       id.FirmwareVersion,
		"update":         id.PendingUpdateURL,
		"update_state":   id.UpdateState,
		"device_channel": id.DeviceChannel(),
		"status_channel": id.StatusChannel(),
	})
}

func runEvents(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	if !cfg.Journal.Enabled {
		return fmt.Errorf("event journal disabled, set JOURNAL_ENABLED=true")
	}

	ctx := context.Background()
	a, err := newAgent(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	events, err := a.journal.Recent(ctx, eventCount)
	if err != nil {
		return err
	}
	return printJSON(cmd, events)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
