package batch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// JST is the default business location. It has no daylight saving time.
var JST = time.FixedZone("JST", 9*60*60)

// TruncateDate returns midnight of t's calendar date in loc
// 指定ロケーションでの日付（0時0分）に切り捨て
func TruncateDate(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = JST
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

var jobDateLayouts = []string{"2006-01-02", "20060102", "2006/01/02"}

// ParseJobDate parses yyyy-MM-dd, yyyyMMdd or yyyy/MM/dd in loc
// 汎用日付文字列を解析
func ParseJobDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = JST
	}
	s = strings.TrimSpace(s)
	for _, layout := range jobDateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, NewValidationError("job_date", "日付形式が不正です (yyyy-MM-dd)", s)
}

// SpecialRange is a recurring MM-DD window; From after To wraps the year end.
type SpecialRange struct {
	Name      string
	FromMonth time.Month
	FromDay   int
	ToMonth   time.Month
	ToDay     int
}

// YearEndRange is the built-in year-end / New Year window
// 年末年始（12/29〜1/5）
var YearEndRange = SpecialRange{Name: "年末年始", FromMonth: time.December, FromDay: 29, ToMonth: time.January, ToDay: 5}

// ParseSpecialRange parses a configured range in MM-DD form
// MM-DD形式の特殊日付範囲を解析
func ParseSpecialRange(name, from, to string) (SpecialRange, error) {
	f, err := time.Parse("01-02", strings.TrimSpace(from))
	if err != nil {
		return SpecialRange{}, NewValidationError("special_date_ranges.from", "MM-DD形式で指定してください", from)
	}
	t, err := time.Parse("01-02", strings.TrimSpace(to))
	if err != nil {
		return SpecialRange{}, NewValidationError("special_date_ranges.to", "MM-DD形式で指定してください", to)
	}
	return SpecialRange{
		Name:      name,
		FromMonth: f.Month(),
		FromDay:   f.Day(),
		ToMonth:   t.Month(),
		ToDay:     t.Day(),
	}, nil
}

func monthDay(m time.Month, d int) int {
	return int(m)*100 + d
}

func (r SpecialRange) wraps() bool {
	return monthDay(r.FromMonth, r.FromDay) > monthDay(r.ToMonth, r.ToDay)
}

// Contains reports whether d's month and day fall in the window.
func (r SpecialRange) Contains(d time.Time) bool {
	md := monthDay(d.Month(), d.Day())
	from := monthDay(r.FromMonth, r.FromDay)
	to := monthDay(r.ToMonth, r.ToDay)
	if r.wraps() {
		return md >= from || md <= to
	}
	return md >= from && md <= to
}

// Enclosing returns the concrete dates of the window containing d.
func (r SpecialRange) Enclosing(d time.Time) DateRange {
	loc := d.Location()
	start := time.Date(d.Year(), r.FromMonth, r.FromDay, 0, 0, 0, 0, loc)
	end := time.Date(d.Year(), r.ToMonth, r.ToDay, 0, 0, 0, 0, loc)
	if r.wraps() {
		if monthDay(d.Month(), d.Day()) >= monthDay(r.FromMonth, r.FromDay) {
			end = end.AddDate(1, 0, 0)
		} else {
			start = start.AddDate(-1, 0, 0)
		}
	}
	return DateRange{Start: start, End: end}
}

func (r SpecialRange) String() string {
	return fmt.Sprintf("%s(%02d-%02d〜%02d-%02d)", r.Name, int(r.FromMonth), r.FromDay, int(r.ToMonth), r.ToDay)
}

// DateValidationConfig holds the date rule settings
// 日付検証の設定
type DateValidationConfig struct {
	DevelopmentMode bool           // 開発環境では過去日付範囲チェックを省略
	MaxDaysInPast   int            // 処理可能な過去日数
	Location        *time.Location // 業務日付のタイムゾーン
	SpecialRanges   []SpecialRange // 追加の特殊日付範囲
}

// DefaultDateValidationConfig returns production defaults.
func DefaultDateValidationConfig() DateValidationConfig {
	return DateValidationConfig{
		MaxDaysInPast: 7,
		Location:      JST,
	}
}

// DateValidator applies the job date rules
// 汎用日付の検証サービス
type DateValidator struct {
	history HistoryRepository
	logger  *zap.Logger
	config  DateValidationConfig
	now     func() time.Time
}

// NewDateValidator creates a new date validator
// 日付検証サービスを作成
func NewDateValidator(history HistoryRepository, logger *zap.Logger, config DateValidationConfig) *DateValidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Location == nil {
		config.Location = JST
	}
	if config.MaxDaysInPast < 0 {
		config.MaxDaysInPast = 0
	}
	return &DateValidator{
		history: history,
		logger:  logger,
		config:  config,
		now:     time.Now,
	}
}

// WithNow overrides the clock used for "today".
func (v *DateValidator) WithNow(now func() time.Time) *DateValidator {
	if now != nil {
		v.now = now
	}
	return v
}

// Location returns the business location.
func (v *DateValidator) Location() *time.Location {
	return v.config.Location
}

// Today returns the current business date.
func (v *DateValidator) Today() time.Time {
	return TruncateDate(v.now(), v.config.Location)
}

// ValidateJobDate checks jobDate against the rules in order; the first failing
// rule decides the result. The error is non-nil only for repository faults.
func (v *DateValidator) ValidateJobDate(ctx context.Context, jobDate time.Time, processType ProcessType, allowDuplicate bool) (ValidationResult, error) {
	if jobDate.IsZero() {
		return ValidationFailure(ErrInvalidJobDate.Error()), nil
	}

	date := TruncateDate(jobDate, v.config.Location)
	today := v.Today()

	v.logger.Info("日付検証開始",
		zap.String("job_date", date.Format("2006-01-02")),
		zap.String("process_type", processType.String()),
	)

	// 1. 未来日チェック
	if date.After(today) {
		v.logger.Error("未来日エラー", zap.String("job_date", date.Format("2006-01-02")))
		return ValidationFailure(MsgFutureDate), nil
	}

	// 2. 過去日付範囲チェック
	if !v.config.DevelopmentMode {
		oldest := today.AddDate(0, 0, -v.config.MaxDaysInPast)
		if date.Before(oldest) {
			v.logger.Error("過去日付範囲超過",
				zap.String("job_date", date.Format("2006-01-02")),
				zap.Int("max_days_in_past", v.config.MaxDaysInPast),
			)
			return ValidationFailure(PastDateRangeMessage(v.config.MaxDaysInPast)), nil
		}
	} else {
		v.logger.Warn("開発環境のため過去日付範囲チェックをスキップしました")
	}

	// 3. 重複処理チェック（日次終了処理以外）
	if processType != ProcessTypeDailyClose && !allowDuplicate {
		processed, err := v.IsDateAlreadyProcessed(ctx, date, processType)
		if err != nil {
			return ValidationResult{}, err
		}
		if processed {
			v.logger.Error("重複処理エラー",
				zap.String("job_date", date.Format("2006-01-02")),
				zap.String("process_type", processType.String()),
			)
			return ValidationFailure(MsgAlreadyProcessed), nil
		}
	} else if allowDuplicate {
		v.logger.Warn("重複処理チェックをスキップしました（開発用）",
			zap.String("job_date", date.Format("2006-01-02")),
			zap.String("process_type", processType.String()),
		)
	}

	// 4. 特殊日付範囲（警告のみ）
	if v.IsSpecialDateRange(date) {
		r := v.GetSpecialDateRange(date)
		v.logger.Warn("特殊日付範囲での処理",
			zap.String("start", r.Start.Format("2006/01/02")),
			zap.String("end", r.End.Format("2006/01/02")),
		)
	}

	v.logger.Info("日付検証成功", zap.String("job_date", date.Format("2006-01-02")))
	return ValidationSuccess(), nil
}

// GetLastProcessedDate returns the job date of the last completed run, or nil.
func (v *DateValidator) GetLastProcessedDate(ctx context.Context, processType ProcessType) (*time.Time, error) {
	last, err := v.history.GetLastSuccessful(ctx, processType)
	if err != nil {
		return nil, fmt.Errorf("最終処理日の取得に失敗しました: %w", err)
	}
	if last == nil {
		return nil, nil
	}
	d := last.JobDate
	return &d, nil
}

// IsDateAlreadyProcessed reports whether a Completed history exists for the pair.
func (v *DateValidator) IsDateAlreadyProcessed(ctx context.Context, jobDate time.Time, processType ProcessType) (bool, error) {
	histories, err := v.history.GetByJobDateAndType(ctx, TruncateDate(jobDate, v.config.Location), processType)
	if err != nil {
		return false, fmt.Errorf("処理履歴の取得に失敗しました: %w", err)
	}
	for _, h := range histories {
		if h.Status == ProcessStatusCompleted {
			return true, nil
		}
	}
	return false, nil
}

// IsSpecialDateRange reports whether jobDate is in the year-end window or a configured range.
func (v *DateValidator) IsSpecialDateRange(jobDate time.Time) bool {
	date := TruncateDate(jobDate, v.config.Location)
	if YearEndRange.Contains(date) {
		return true
	}
	for _, r := range v.config.SpecialRanges {
		if r.Contains(date) {
			return true
		}
	}
	return false
}

// GetSpecialDateRange returns the window enclosing jobDate. Outside every
// window the range collapses to (jobDate, jobDate).
func (v *DateValidator) GetSpecialDateRange(jobDate time.Time) DateRange {
	date := TruncateDate(jobDate, v.config.Location)
	if YearEndRange.Contains(date) {
		return YearEndRange.Enclosing(date)
	}
	for _, r := range v.config.SpecialRanges {
		if r.Contains(date) {
			return r.Enclosing(date)
		}
	}
	return DateRange{Start: date, End: date}
}
