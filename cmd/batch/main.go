package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/nemonet1337/zaiGoBatch/internal/app"
	"github.com/nemonet1337/zaiGoBatch/internal/config"
	"github.com/nemonet1337/zaiGoBatch/internal/logger"
	"github.com/nemonet1337/zaiGoBatch/pkg/batch"
)

const usage = `使い方: batch <コマンド> [オプション]

コマンド:
  validate-date      汎用日付の検証
  carryover          前日在庫引継
  init-inventory     前月末在庫取込
  daily-close        日次終了処理
  check-daily-close  日次終了処理の実行可否確認
  history            処理履歴の表示
  valuation          在庫評価（分類別集計・ABC分析）
  reset              処理のリセット（--confirm=RESET で実行）

共通オプション:
  --config  設定ファイルのパス（既定: $CONFIG_PATH）
  --date    汎用日付 yyyy-MM-dd（既定: 本日）
  --by      実行者
`

type cli struct {
	stdout io.Writer
	stderr io.Writer
	setup  func(ctx context.Context, configPath string) (*app.App, error)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := &cli{stdout: os.Stdout, stderr: os.Stderr, setup: setupApp}
	os.Exit(c.run(ctx, os.Args[1:]))
}

// setupApp loads the configuration, builds the logger and connects
func setupApp(ctx context.Context, configPath string) (*app.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, log, app.Options{})
}

// run executes one subcommand and returns the exit status
func (c *cli) run(ctx context.Context, args []string) int {
	if len(args) == 0 {
		fmt.Fprint(c.stderr, usage)
		return 2
	}

	commands := map[string]func(context.Context, []string) error{
		"validate-date":     c.validateDate,
		"carryover":         c.carryover,
		"init-inventory":    c.initInventory,
		"daily-close":       c.dailyClose,
		"check-daily-close": c.checkDailyClose,
		"history":           c.history,
		"valuation":         c.valuation,
		"reset":             c.reset,
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(c.stderr, "不明なコマンドです: %s\n\n%s", args[0], usage)
		return 2
	}

	if err := cmd(ctx, args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		var ue usageError
		if errors.As(err, &ue) {
			fmt.Fprintln(c.stderr, ue.Error())
			return 2
		}
		fmt.Fprintln(c.stderr, c.describe(err))
		return 1
	}
	return 0
}

// describe returns the operator message of err
func (c *cli) describe(err error) string {
	if batch.IsValidationFailure(err) {
		return err.Error()
	}
	return "【異常終了】" + err.Error()
}

type usageError string

func (e usageError) Error() string { return string(e) }

// commonFlags are shared by every subcommand
type commonFlags struct {
	config string
	date   string
	by     string
}

func (c *cli) newFlagSet(name string) (*flag.FlagSet, *commonFlags) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	cf := &commonFlags{}
	fs.StringVar(&cf.config, "config", os.Getenv("CONFIG_PATH"), "設定ファイルのパス")
	fs.StringVar(&cf.date, "date", "", "汎用日付 (yyyy-MM-dd)")
	fs.StringVar(&cf.by, "by", "", "実行者")
	return fs, cf
}

// open connects and resolves the job date; an empty date means today
func (c *cli) open(ctx context.Context, cf *commonFlags) (*app.App, time.Time, error) {
	a, err := c.setup(ctx, cf.config)
	if err != nil {
		return nil, time.Time{}, err
	}
	if cf.date == "" {
		return a, a.Runner.Validator().Today(), nil
	}
	jobDate, err := batch.ParseJobDate(cf.date, a.Config.Location())
	if err != nil {
		a.Close()
		return nil, time.Time{}, err
	}
	return a, jobDate, nil
}

func closeApp(a *app.App) {
	if err := a.Close(); err != nil {
		a.Logger.Warn("終了処理に失敗しました", zap.Error(err))
	}
	a.Logger.Sync()
}

func parseType(s string) (batch.ProcessType, error) {
	if s == "" {
		return 0, usageError("--type を指定してください")
	}
	return batch.ParseProcessType(s)
}
