package batch

import (
	"errors"
	"fmt"
	"time"
)

// Common batch errors
// バッチ処理の共通エラー定義

var (
	// ErrHistoryNotFound is returned when a process history id is unknown
	// 処理履歴が存在しない場合のエラー
	ErrHistoryNotFound = errors.New("処理履歴が見つかりません")

	// ErrHistoryClosed is returned when completing a history that is no longer running
	// 既に終了している処理履歴を再度完了しようとした場合のエラー
	ErrHistoryClosed = errors.New("処理履歴は既に終了しています")

	// ErrDataSetNotFound is returned when a data set doesn't exist
	// データセットが存在しない場合のエラー
	ErrDataSetNotFound = errors.New("データセットが見つかりません")

	// ErrDuplicateDataSet is returned when a data set id is already registered
	// データセットIDが既に登録されている場合のエラー
	ErrDuplicateDataSet = errors.New("データセットIDは既に存在します")

	// ErrAlreadyRunning is returned when another run holds the lock for the same job
	// 同じ日付・処理種別のバッチが実行中の場合のエラー
	ErrAlreadyRunning = errors.New("同じ日付・処理種別のバッチ処理が実行中です")

	// ErrNoDailyReport is returned when daily close runs before the daily report
	// 商品日報が未作成の場合のエラー
	ErrNoDailyReport = errors.New(MsgNoDailyReport)

	// ErrInvalidJobDate is returned for a zero job date
	// 汎用日付が指定されていない場合のエラー
	ErrInvalidJobDate = errors.New("汎用日付が指定されていません")
)

// ValidationError represents an invalid input value
// 入力値のバリデーションエラーを表現
type ValidationError struct {
	Field   string `json:"field"`   // エラーフィールド
	Message string `json:"message"` // エラーメッセージ
	Value   string `json:"value"`   // 無効な値
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("バリデーションエラー [%s]: %s (値: %s)", e.Field, e.Message, e.Value)
}

// NewValidationError creates a new validation error
// 新しいバリデーションエラーを作成
func NewValidationError(field, message, value string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// DateValidationError is raised by InitializeProcess when the job date
// fails validation. Error returns the operator message unchanged.
type DateValidationError struct {
	JobDate     time.Time
	ProcessType ProcessType
	Result      ValidationResult
}

func (e *DateValidationError) Error() string {
	return e.Result.Message
}

// DuplicateDailyCloseError is returned when the job date already has a daily close
// 同一日付の日次終了処理が既に存在する場合のエラー
type DuplicateDailyCloseError struct {
	JobDate time.Time
	Status  ProcessStatus
}

func (e *DuplicateDailyCloseError) Error() string {
	return fmt.Sprintf("指定された日付 (%s) の日次終了処理は既に存在します (Status: %s)",
		e.JobDate.Format("2006-01-02"), e.Status)
}

// TimingError is returned when daily close is requested too early
// 日次終了処理の実行タイミング違反
type TimingError struct {
	Rule    string
	Message string
}

func (e *TimingError) Error() string {
	return e.Message
}

// IsValidationFailure reports whether err carries an operator-facing
// validation message rather than an infrastructure fault.
func IsValidationFailure(err error) bool {
	var dv *DateValidationError
	var dup *DuplicateDailyCloseError
	var timing *TimingError
	var ve *ValidationError
	return errors.As(err, &dv) || errors.As(err, &dup) || errors.As(err, &timing) ||
		errors.As(err, &ve) || errors.Is(err, ErrNoDailyReport)
}
