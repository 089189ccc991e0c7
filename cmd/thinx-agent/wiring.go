package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"syscall"
	"time"

	"thinx-client/common/database"
	"thinx-client/common/mqtt"
	redisclient "thinx-client/common/redis"
	"thinx-client/internal/config"
	"thinx-client/internal/device"
	"thinx-client/internal/journal"
	"thinx-client/internal/models"
	"thinx-client/internal/repository"
	"thinx-client/internal/service"
	"thinx-client/internal/session"
	"thinx-client/internal/transport"
	"thinx-client/internal/updater"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// agent 组装好的代理及其需要释放的资源
type agent struct {
	svc      *service.AgentService
	store    *repository.RecoveringStore
	journal  *journal.RedisJournal
	closers  []func()
	identity models.DeviceIdentity
}

func (a *agent) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// baseIdentity 构建期身份：出厂配置 + 本机硬件信息
func baseIdentity(cfg *config.Config, logger *zap.Logger) models.DeviceIdentity {
	mac, err := device.DiscoverMAC(cfg.Device.MAC)
	if err != nil {
		logger.Warn("Failed to discover MAC address", zap.Error(err))
	}
	return models.DeviceIdentity{
		Alias:           cfg.Device.Alias,
		Owner:           cfg.Device.Owner,
		APIKey:          cfg.Device.APIKey,
		UDID:            cfg.Device.UDID,
		MAC:             mac,
		FirmwareVersion: cfg.Device.FirmwareVersion,
		VersionID:       cfg.Device.VersionID,
		CommitID:        cfg.Device.CommitID,
		Platform:        device.Platform(cfg.Device.Platform),
		UpdateState:     models.UpdateStateNone,
	}
}

// newAgent 按配置组装代理
func newAgent(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*agent, error) {
	a := &agent{}

	var redisClient *redis.Client
	if cfg.Store.Backend == "redis" || cfg.Journal.Enabled {
		redisClient = redisclient.NewRedisClient(&cfg.Redis)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := redisclient.Ping(pingCtx, redisClient)
		cancel()
		if err != nil {
			redisClient.Close()
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := redisclient.Close(redisClient); err != nil {
				logger.Error("Failed to close redis", zap.Error(err))
			}
		})
	}

	backend, err := newBackend(ctx, cfg, redisClient, a, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = repository.NewRecoveringStore(backend, logger)

	var recorder journal.Recorder = journal.Nop{}
	if cfg.Journal.Enabled {
		a.journal = journal.NewRedisJournal(redisClient, cfg.Journal.Stream, cfg.Journal.MaxLen, logger)
		recorder = a.journal
	}

	mqttClient := mqtt.NewClient(&cfg.MQTT, logger)
	sess := session.NewManager(mqttClient, cfg.MQTT.QoS, session.DefaultInboxSize, logger)

	checkin := transport.NewCheckinClient(cfg.API.BaseURL(), cfg.API.Timeout, logger)
	executor := updater.NewHTTPExecutor(updater.Config{
		BaseURL:      cfg.Update.BaseURL,
		FallbackURL:  cfg.Update.FallbackURL,
		FirmwarePath: cfg.Update.FirmwarePath,
		Timeout:      cfg.Update.Timeout,
		Version:      cfg.Device.VersionID,
	}, logger)

	a.identity = baseIdentity(cfg, logger)
	a.svc = service.NewAgentService(a.identity, service.Options{
		AutoUpdate:        cfg.Agent.AutoUpdate,
		CheckinInterval:   cfg.Agent.CheckinInterval,
		ConfirmTimeout:    cfg.Agent.ConfirmTimeout,
		ReconnectInterval: cfg.Agent.ReconnectInterval,
	}, service.Deps{
		Store:    a.store,
		Checkin:  checkin,
		Session:  sess,
		Executor: executor,
		Journal:  recorder,
		Restart:  restarter(cfg.Update.FirmwarePath, logger),
	}, logger)

	if err := a.svc.Init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func newBackend(ctx context.Context, cfg *config.Config, redisClient *redis.Client, a *agent, logger *zap.Logger) (repository.Backend, error) {
	switch cfg.Store.Backend {
	case "redis":
		return repository.NewRedisBackend(repository.NewRedisKV(redisClient), cfg.Store.Key), nil

	case "postgres":
		db, err := database.NewPostgresDB(&cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.closers = append(a.closers, func() { closeDB(db, logger) })

		backend := repository.NewPostgresBackend(db, logger)
		if err := backend.Reinit(ctx); err != nil {
			return nil, err
		}
		return backend, nil

	default:
		return repository.NewFileBackend(cfg.Store.Path), nil
	}
}

func closeDB(db *sql.DB, logger *zap.Logger) {
	if err := database.Close(db); err != nil {
		logger.Error("Failed to close database", zap.Error(err))
	}
}

// restarter 更新成功后用新镜像替换当前进程；镜像不可执行时退出，由进程管理器拉起
func restarter(firmwarePath string, logger *zap.Logger) func() {
	return func() {
		logger.Info("Restarting into updated firmware", zap.String("path", firmwarePath))
		_ = logger.Sync()
		if err := syscall.Exec(firmwarePath, os.Args, os.Environ()); err != nil {
			logger.Error("Exec of updated firmware failed, exiting", zap.Error(err))
			os.Exit(exitRestart)
		}
	}
}
