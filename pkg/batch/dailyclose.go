package batch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DailyCloseRules are the timing preconditions of a daily close
// 日次終了処理の実行条件
type DailyCloseRules struct {
	EarliestTime   time.Duration // 0時からのオフセット（15:00 = 15h）
	MinAfterReport time.Duration // 商品日報作成からの最小経過時間
	MinAfterImport time.Duration // 最終データ取込からの最小経過時間
	SkipTiming     bool          // 開発用：時刻条件を無視
}

// DefaultDailyCloseRules returns 15:00, 30 minutes and 5 minutes.
func DefaultDailyCloseRules() DailyCloseRules {
	return DailyCloseRules{
		EarliestTime:   15 * time.Hour,
		MinAfterReport: 30 * time.Minute,
		MinAfterImport: 5 * time.Minute,
	}
}

// DailyCloseReadiness is the outcome of inspecting a job date for daily close
// 日次終了処理の事前確認結果
type DailyCloseReadiness struct {
	JobDate     time.Time       `json:"job_date"`
	CanClose    bool            `json:"can_close"`
	DailyReport *ProcessHistory `json:"daily_report,omitempty"`
	LastImport  *ProcessHistory `json:"last_import,omitempty"`
	Problems    []string        `json:"problems,omitempty"`

	errs []error
}

// Err returns the first blocking problem, or nil.
func (r *DailyCloseReadiness) Err() error {
	if len(r.errs) == 0 {
		return nil
	}
	return r.errs[0]
}

func (r *DailyCloseReadiness) add(err error) {
	r.errs = append(r.errs, err)
	r.Problems = append(r.Problems, err.Error())
	r.CanClose = false
}

// DailyCloseGuard prevents duplicate or premature daily closes
// 日次終了処理の重複・実行タイミングを検査
type DailyCloseGuard struct {
	history  HistoryRepository
	rules    DailyCloseRules
	location *time.Location
	logger   *zap.Logger
	now      func() time.Time
}

// NewDailyCloseGuard creates a new daily close guard
func NewDailyCloseGuard(history HistoryRepository, rules DailyCloseRules, loc *time.Location, logger *zap.Logger) *DailyCloseGuard {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = JST
	}
	return &DailyCloseGuard{history: history, rules: rules, location: loc, logger: logger, now: time.Now}
}

// WithNow overrides the clock.
func (g *DailyCloseGuard) WithNow(now func() time.Time) *DailyCloseGuard {
	if now != nil {
		g.now = now
	}
	return g
}

// Check returns the first reason jobDate cannot be closed now, or nil.
func (g *DailyCloseGuard) Check(ctx context.Context, jobDate time.Time) error {
	r, err := g.Inspect(ctx, jobDate)
	if err != nil {
		return err
	}
	return r.Err()
}

// Inspect evaluates every rule and collects all problems.
func (g *DailyCloseGuard) Inspect(ctx context.Context, jobDate time.Time) (*DailyCloseReadiness, error) {
	date := TruncateDate(jobDate, g.location)
	r := &DailyCloseReadiness{JobDate: date, CanClose: true}

	// 1. 重複チェック
	closes, err := g.history.GetByJobDateAndType(ctx, date, ProcessTypeDailyClose)
	if err != nil {
		return nil, fmt.Errorf("日次終了処理履歴の取得に失敗しました: %w", err)
	}
	for _, h := range closes {
		if h.Status == ProcessStatusCompleted || h.Status == ProcessStatusRunning {
			r.add(&DuplicateDailyCloseError{JobDate: date, Status: h.Status})
			break
		}
	}

	// 2. 商品日報の存在チェック
	reports, err := g.history.GetByJobDateAndType(ctx, date, ProcessTypeDailyReport)
	if err != nil {
		return nil, fmt.Errorf("商品日報履歴の取得に失敗しました: %w", err)
	}
	r.DailyReport = latestCompleted(reports)
	if r.DailyReport == nil {
		r.add(ErrNoDailyReport)
	}

	imports, err := g.history.GetByJobDateAndType(ctx, date, ProcessTypeImport)
	if err != nil {
		return nil, fmt.Errorf("取込履歴の取得に失敗しました: %w", err)
	}
	r.LastImport = latestCompleted(imports)

	if g.rules.SkipTiming {
		g.logger.Warn("開発モードのため時刻チェックをスキップしました")
		return r, nil
	}

	now := g.now().In(g.location)

	// 3. 実行可能時刻
	earliest := TruncateDate(now, g.location).Add(g.rules.EarliestTime)
	if now.Before(earliest) {
		r.add(&TimingError{
			Rule:    "earliest_time",
			Message: fmt.Sprintf(MsgTooEarly, earliest.Format("15:04"), now.Format("15:04")),
		})
	}

	// 4. 商品日報からの経過時間
	if r.DailyReport != nil && r.DailyReport.EndTime != nil {
		elapsed := now.Sub(*r.DailyReport.EndTime)
		if elapsed < g.rules.MinAfterReport {
			r.add(&TimingError{
				Rule:    "min_after_report",
				Message: fmt.Sprintf(MsgTooSoonAfterReport, int(g.rules.MinAfterReport.Minutes()), int(elapsed.Minutes())),
			})
		}
	}

	// 5. 最終取込からの経過時間
	if r.LastImport != nil && r.LastImport.EndTime != nil {
		elapsed := now.Sub(*r.LastImport.EndTime)
		if elapsed < g.rules.MinAfterImport {
			r.add(&TimingError{
				Rule:    "min_after_import",
				Message: fmt.Sprintf(MsgTooSoonAfterImport, int(g.rules.MinAfterImport.Minutes()), int(elapsed.Minutes())),
			})
		}
	}

	if !r.CanClose {
		g.logger.Warn("日次終了処理の実行条件を満たしていません",
			zap.String("job_date", date.Format("2006-01-02")),
			zap.Strings("problems", r.Problems),
		)
	}
	return r, nil
}

func latestCompleted(histories []ProcessHistory) *ProcessHistory {
	var latest *ProcessHistory
	for i := range histories {
		h := &histories[i]
		if h.Status != ProcessStatusCompleted || h.EndTime == nil {
			continue
		}
		if latest == nil || h.EndTime.After(*latest.EndTime) {
			latest = h
		}
	}
	return latest
}
