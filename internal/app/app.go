// Package app wires configuration, storage and batch services for the binaries.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiGoBatch/internal/config"
	"github.com/nemonet1337/zaiGoBatch/internal/lock"
	"github.com/nemonet1337/zaiGoBatch/internal/metrics"
	"github.com/nemonet1337/zaiGoBatch/pkg/batch"
	"github.com/nemonet1337/zaiGoBatch/pkg/inventory"
	"github.com/nemonet1337/zaiGoBatch/pkg/inventory/storage"
	"github.com/nemonet1337/zaiGoBatch/pkg/notify"
)

// Options overrides collaborators of an App
type Options struct {
	Registerer prometheus.Registerer // nil: 専用レジストリ
	Mailer     batch.Mailer          // nil: email設定から生成
	Now        func() time.Time
}

// App holds the services shared by cmd/batch and cmd/api
// バッチ実行に必要なサービス一式
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Store    *storage.PostgreSQLStorage
	Recorder *metrics.Recorder

	Runner     *batch.Runner
	Guard      *batch.DailyCloseGuard
	Carryover  *inventory.CarryoverService
	Initial    *inventory.InitialImportService
	DailyClose *inventory.DailyCloseService
	Reset      *inventory.ResetService
	Valuation  *inventory.ValuationService

	redis *redis.Client
}

// New connects to PostgreSQL (and redis when the run lock is enabled) and builds the services
// 設定からアプリケーションを構築
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*App, error) {
	pool := storage.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}
	store, err := storage.NewPostgreSQLStorage(ctx, cfg.DSN(), pool, cfg.Location(), logger)
	if err != nil {
		return nil, err
	}

	a, err := Build(cfg, store, logger, opts)
	if err != nil {
		store.Close()
		return nil, err
	}
	return a, nil
}

// Build wires the services on an existing storage
func Build(cfg *config.Config, store *storage.PostgreSQLStorage, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	loc := cfg.Location()

	a := &App{
		Config:   cfg,
		Logger:   logger,
		Store:    store,
		Recorder: metrics.NewRecorder(reg),
	}

	mailer := opts.Mailer
	if mailer == nil && cfg.Email.Enabled {
		mailer = notify.NewSMTPMailer(notify.SMTPConfig{
			Host:     cfg.Email.SMTPHost,
			Port:     cfg.Email.SMTPPort,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
			From:     cfg.Email.From,
		}, logger)
	}

	histories := store.History()
	validator := batch.NewDateValidator(histories, logger, cfg.DateValidation()).WithNow(now)
	factory := batch.NewDataSetFactory(logger, loc).WithNow(now)
	dataSets := batch.NewDataSetManager(store.DataSets(), factory, logger)
	history := batch.NewHistoryService(histories, mailer, logger, cfg.EmailSettings(), loc).WithNow(now)

	runnerOpts := []batch.RunnerOption{batch.WithRecorder(a.Recorder), batch.WithClock(now)}
	if cfg.Lock.Enabled {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Lock.RedisAddr,
			Password: cfg.Lock.RedisPassword,
			DB:       cfg.Lock.RedisDB,
		})
		runnerOpts = append(runnerOpts, batch.WithLocker(lock.NewRedisLocker(a.redis, cfg.Lock.TTL, logger)))
	}
	a.Runner = batch.NewRunner(validator, dataSets, history, logger, runnerOpts...)
	a.Guard = batch.NewDailyCloseGuard(histories, cfg.DailyCloseRules(), loc, logger).WithNow(now)

	var vouchers [3]*storage.VoucherRepository
	for i, kind := range []inventory.VoucherKind{inventory.VoucherKindSales, inventory.VoucherKindPurchase, inventory.VoucherKindAdjustment} {
		repo, err := store.Vouchers(kind)
		if err != nil {
			return nil, err
		}
		vouchers[i] = repo
	}

	inv := store.Inventory()
	a.Carryover = inventory.NewCarryoverService(inv, vouchers[0], vouchers[1], vouchers[2], dataSets, logger).
		WithNow(now).
		WithRecorder(a.Recorder)
	a.Initial = inventory.NewInitialImportService(inv, dataSets, logger).WithNow(now)
	a.DailyClose = inventory.NewDailyCloseService(inv, dataSets, logger)
	a.Reset = inventory.NewResetService(inv, histories, store.DataSets(), logger).WithNow(now)
	a.Valuation = inventory.NewValuationService(inv, logger)
	return a, nil
}

// Close releases the database pool and the redis client
func (a *App) Close() error {
	var err error
	if a.redis != nil {
		err = multierr.Append(err, a.redis.Close())
	}
	if a.Store != nil {
		err = multierr.Append(err, a.Store.Close())
	}
	return err
}

// Request builds a run request with the configured defaults
// 実行要求を生成
func (a *App) Request(jobDate time.Time, processType batch.ProcessType, executedBy string) batch.Request {
	if executedBy == "" {
		executedBy = a.Config.Batch.ExecutedBy
	}
	return batch.Request{
		JobDate:     jobDate,
		ProcessType: processType,
		ExecutedBy:  executedBy,
		Department:  a.Config.Batch.Department,
	}
}

// CarryoverWork is the carryover work with a per-run key tracer. out may be nil.
func (a *App) CarryoverWork(out *inventory.CarryoverResult) batch.WorkFunc {
	return a.withTracer(func(t *inventory.Tracer) batch.WorkFunc {
		return a.Carryover.Work(t, out)
	})
}

// withTracer creates the tracer of debug.track_key from the run id and saves it after the work
func (a *App) withTracer(build func(*inventory.Tracer) batch.WorkFunc) batch.WorkFunc {
	return func(ctx context.Context, pc *batch.ProcessContext) (string, error) {
		tracer, err := inventory.NewTracerFromConfig(pc.RunID, a.Config.Debug.TrackKey, a.Logger)
		if err != nil {
			return "", fmt.Errorf("追跡キーが不正です: %w", err)
		}

		msg, err := build(tracer)(ctx, pc)

		if tracer != nil {
			if dir := a.Config.Debug.TraceDir; dir != "" {
				path, serr := tracer.SaveFile(dir)
				if serr != nil {
					a.Logger.Warn("トレース出力に失敗しました", zap.Error(serr))
				} else {
					a.Logger.Info("トレースを出力しました", zap.String("path", path))
				}
			} else {
				tracer.LogSummary()
			}
		}
		return msg, err
	}
}

// RunCarryover runs the carryover of jobDate. allowDuplicate skips the
// already-processed check only.
// 前日在庫引継を実行
func (a *App) RunCarryover(ctx context.Context, jobDate time.Time, executedBy string, allowDuplicate bool) (*batch.ProcessContext, *inventory.CarryoverResult, error) {
	var res inventory.CarryoverResult
	req := a.Request(jobDate, batch.ProcessTypeCarryover, executedBy)
	req.AllowDuplicate = allowDuplicate
	pc, err := a.Runner.RunBatch(ctx, req, a.CarryoverWork(&res))
	return pc, &res, err
}

// RunDailyClose checks the daily close rules, then runs the daily close
// 日次終了処理を実行
func (a *App) RunDailyClose(ctx context.Context, jobDate time.Time, executedBy string) (*batch.ProcessContext, error) {
	jobDate = batch.TruncateDate(jobDate, a.Config.Location())
	if err := a.Guard.Check(ctx, jobDate); err != nil {
		return nil, err
	}
	return a.Runner.RunBatch(ctx, a.Request(jobDate, batch.ProcessTypeDailyClose, executedBy), a.DailyClose.Work())
}
