// Package batch provides the daily batch lifecycle: job date validation,
// data set identification and lineage, process history and run orchestration.
package batch

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"
)

// ProcessType identifies a kind of batch run
// バッチ処理の種別
type ProcessType uint8

const (
	ProcessTypeImport      ProcessType = iota + 1 // 売上・仕入・在庫調整の取込
	ProcessTypeCarryover                          // 前日在庫繰越
	ProcessTypeInit                               // 月初在庫の初期登録
	ProcessTypeManual                             // 手動登録
	ProcessTypeUnmatchList                        // アンマッチリスト
	ProcessTypeDailyReport                        // 商品日報
	ProcessTypeDailyClose                         // 日次終了処理
)

var processTypeNames = [...]string{
	ProcessTypeImport:      "IMPORT",
	ProcessTypeCarryover:   "CARRYOVER",
	ProcessTypeInit:        "INIT",
	ProcessTypeManual:      "MANUAL",
	ProcessTypeUnmatchList: "UNMATCH_LIST",
	ProcessTypeDailyReport: "DAILY_REPORT",
	ProcessTypeDailyClose:  "DAILY_CLOSE",
}

// ProcessTypes returns every defined process type in declaration order.
func ProcessTypes() []ProcessType {
	return []ProcessType{
		ProcessTypeImport,
		ProcessTypeCarryover,
		ProcessTypeInit,
		ProcessTypeManual,
		ProcessTypeUnmatchList,
		ProcessTypeDailyReport,
		ProcessTypeDailyClose,
	}
}

// Valid reports whether p is one of the declared process types.
func (p ProcessType) Valid() bool {
	return p >= ProcessTypeImport && p <= ProcessTypeDailyClose
}

func (p ProcessType) String() string {
	if p.Valid() {
		return processTypeNames[p]
	}
	return fmt.Sprintf("ProcessType(%d)", uint8(p))
}

// ImportType derives the data set import type from the process type
// 処理種別からインポート種別を導出
func (p ProcessType) ImportType() ImportType {
	switch p {
	case ProcessTypeImport:
		return ImportTypeImport
	case ProcessTypeCarryover:
		return ImportTypeCarryover
	case ProcessTypeInit:
		return ImportTypeInit
	case ProcessTypeManual:
		return ImportTypeManual
	case ProcessTypeUnmatchList, ProcessTypeDailyReport, ProcessTypeDailyClose:
		return ImportTypeUnknown
	}
	return ImportTypeUnknown
}

// ParseProcessType parses names such as "CARRYOVER" or "daily-close"
// 文字列から処理種別を解析
func ParseProcessType(s string) (ProcessType, error) {
	name := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	for _, p := range ProcessTypes() {
		if processTypeNames[p] == name {
			return p, nil
		}
	}
	return 0, NewValidationError("process_type", "未定義の処理種別です", s)
}

func (p ProcessType) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, NewValidationError("process_type", "未定義の処理種別です", p.String())
	}
	return []byte(p.String()), nil
}

func (p *ProcessType) UnmarshalText(text []byte) error {
	v, err := ParseProcessType(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Value implements driver.Valuer
func (p ProcessType) Value() (driver.Value, error) {
	if !p.Valid() {
		return nil, NewValidationError("process_type", "未定義の処理種別です", p.String())
	}
	return p.String(), nil
}

// Scan implements sql.Scanner
func (p *ProcessType) Scan(src interface{}) error {
	s, err := scanString("process_type", src)
	if err != nil {
		return err
	}
	return p.UnmarshalText([]byte(s))
}

// ProcessStatus is the lifecycle state of a process history row.
// Running moves to Completed or Failed exactly once.
type ProcessStatus uint8

const (
	ProcessStatusRunning ProcessStatus = iota + 1
	ProcessStatusCompleted
	ProcessStatusFailed
)

var processStatusNames = [...]string{
	ProcessStatusRunning:   "Running",
	ProcessStatusCompleted: "Completed",
	ProcessStatusFailed:    "Failed",
}

func (s ProcessStatus) Valid() bool {
	return s >= ProcessStatusRunning && s <= ProcessStatusFailed
}

func (s ProcessStatus) String() string {
	if s.Valid() {
		return processStatusNames[s]
	}
	return fmt.Sprintf("ProcessStatus(%d)", uint8(s))
}

// Terminal reports whether no further transition is allowed.
func (s ProcessStatus) Terminal() bool {
	switch s {
	case ProcessStatusCompleted, ProcessStatusFailed:
		return true
	case ProcessStatusRunning:
		return false
	}
	return false
}

func ParseProcessStatus(s string) (ProcessStatus, error) {
	for v := ProcessStatusRunning; v <= ProcessStatusFailed; v++ {
		if strings.EqualFold(processStatusNames[v], strings.TrimSpace(s)) {
			return v, nil
		}
	}
	return 0, NewValidationError("status", "未定義の処理ステータスです", s)
}

func (s ProcessStatus) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, NewValidationError("status", "未定義の処理ステータスです", s.String())
	}
	return []byte(s.String()), nil
}

func (s *ProcessStatus) UnmarshalText(text []byte) error {
	v, err := ParseProcessStatus(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (s ProcessStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, NewValidationError("status", "未定義の処理ステータスです", s.String())
	}
	return s.String(), nil
}

func (s *ProcessStatus) Scan(src interface{}) error {
	str, err := scanString("status", src)
	if err != nil {
		return err
	}
	return s.UnmarshalText([]byte(str))
}

// DataSetStatus is the status of a data set row
// データセットの状態
type DataSetStatus uint8

const (
	DataSetStatusProcessing DataSetStatus = iota + 1
	DataSetStatusCompleted
	DataSetStatusFailed
)

var dataSetStatusNames = [...]string{
	DataSetStatusProcessing: "Processing",
	DataSetStatusCompleted:  "Completed",
	DataSetStatusFailed:     "Failed",
}

func (s DataSetStatus) Valid() bool {
	return s >= DataSetStatusProcessing && s <= DataSetStatusFailed
}

func (s DataSetStatus) String() string {
	if s.Valid() {
		return dataSetStatusNames[s]
	}
	return fmt.Sprintf("DataSetStatus(%d)", uint8(s))
}

func ParseDataSetStatus(s string) (DataSetStatus, error) {
	for v := DataSetStatusProcessing; v <= DataSetStatusFailed; v++ {
		if strings.EqualFold(dataSetStatusNames[v], strings.TrimSpace(s)) {
			return v, nil
		}
	}
	return 0, NewValidationError("status", "未定義のデータセット状態です", s)
}

func (s DataSetStatus) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, NewValidationError("status", "未定義のデータセット状態です", s.String())
	}
	return []byte(s.String()), nil
}

func (s *DataSetStatus) UnmarshalText(text []byte) error {
	v, err := ParseDataSetStatus(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (s DataSetStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, NewValidationError("status", "未定義のデータセット状態です", s.String())
	}
	return s.String(), nil
}

func (s *DataSetStatus) Scan(src interface{}) error {
	str, err := scanString("status", src)
	if err != nil {
		return err
	}
	return s.UnmarshalText([]byte(str))
}

// ImportType classifies how a data set's rows were produced
// データセットの取込種別
type ImportType uint8

const (
	ImportTypeImport ImportType = iota + 1
	ImportTypeCarryover
	ImportTypeInit
	ImportTypeManual
	ImportTypeUnknown
)

var importTypeNames = [...]string{
	ImportTypeImport:    "IMPORT",
	ImportTypeCarryover: "CARRYOVER",
	ImportTypeInit:      "INIT",
	ImportTypeManual:    "MANUAL",
	ImportTypeUnknown:   "UNKNOWN",
}

func (t ImportType) Valid() bool {
	return t >= ImportTypeImport && t <= ImportTypeUnknown
}

func (t ImportType) String() string {
	if t.Valid() {
		return importTypeNames[t]
	}
	return fmt.Sprintf("ImportType(%d)", uint8(t))
}

func ParseImportType(s string) (ImportType, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for v := ImportTypeImport; v <= ImportTypeUnknown; v++ {
		if importTypeNames[v] == name {
			return v, nil
		}
	}
	return 0, NewValidationError("import_type", "未定義のインポート種別です", s)
}

func (t ImportType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, NewValidationError("import_type", "未定義のインポート種別です", t.String())
	}
	return []byte(t.String()), nil
}

func (t *ImportType) UnmarshalText(text []byte) error {
	v, err := ParseImportType(string(text))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

func (t ImportType) Value() (driver.Value, error) {
	if !t.Valid() {
		return nil, NewValidationError("import_type", "未定義のインポート種別です", t.String())
	}
	return t.String(), nil
}

func (t *ImportType) Scan(src interface{}) error {
	str, err := scanString("import_type", src)
	if err != nil {
		return err
	}
	return t.UnmarshalText([]byte(str))
}

func scanString(field string, src interface{}) (string, error) {
	switch v := src.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case nil:
		return "", NewValidationError(field, "NULLは許可されていません", "")
	default:
		return "", NewValidationError(field, "文字列以外の値です", fmt.Sprintf("%T", src))
	}
}

// DataSetManagement is one row per batch run
// バッチ実行ごとのデータセット管理レコード
type DataSetManagement struct {
	DataSetID        string        `json:"data_set_id" db:"data_set_id"`               // データセットID
	JobDate          time.Time     `json:"job_date" db:"job_date"`                     // 汎用日付
	ProcessType      ProcessType   `json:"process_type" db:"process_type"`             // 処理種別
	ImportType       ImportType    `json:"import_type" db:"import_type"`               // インポート種別
	Name             string        `json:"name" db:"name"`                             // 名称
	Description      string        `json:"description" db:"description"`               // 説明
	ImportedFiles    string        `json:"imported_files" db:"imported_files"`         // 取込ファイル一覧（JSON配列）
	RecordCount      int           `json:"record_count" db:"record_count"`             // 登録件数
	TotalRecordCount int           `json:"total_record_count" db:"total_record_count"` // 総件数
	IsActive         bool          `json:"is_active" db:"is_active"`                   // アクティブ
	IsArchived       bool          `json:"is_archived" db:"is_archived"`               // アーカイブ済み
	ArchivedAt       *time.Time    `json:"archived_at,omitempty" db:"archived_at"`     // アーカイブ日時
	ArchivedBy       string        `json:"archived_by,omitempty" db:"archived_by"`     // アーカイブ実行者
	ParentDataSetID  string        `json:"parent_data_set_id,omitempty" db:"parent_data_set_id"`
	CreatedBy        string        `json:"created_by" db:"created_by"`       // 作成者
	Department       string        `json:"department" db:"department"`       // 部門
	Notes            string        `json:"notes,omitempty" db:"notes"`       // 備考
	Status           DataSetStatus `json:"status" db:"status"`               // 状態
	ErrorMessage     string        `json:"error_message,omitempty" db:"error_message"`
	CreatedAt        time.Time     `json:"created_at" db:"created_at"` // 作成日時（UTC）
	UpdatedAt        time.Time     `json:"updated_at" db:"updated_at"` // 更新日時（UTC）
}

// ProcessHistory records the lifecycle of one batch run
// バッチ実行の処理履歴
type ProcessHistory struct {
	ID           int64         `json:"id" db:"id"`
	DataSetID    string        `json:"data_set_id" db:"data_set_id"`
	JobDate      time.Time     `json:"job_date" db:"job_date"`
	ProcessType  ProcessType   `json:"process_type" db:"process_type"`
	StartTime    time.Time     `json:"start_time" db:"start_time"`
	EndTime      *time.Time    `json:"end_time,omitempty" db:"end_time"`
	Status       ProcessStatus `json:"status" db:"status"`
	ExecutedBy   string        `json:"executed_by" db:"executed_by"`
	ErrorMessage string        `json:"error_message,omitempty" db:"error_message"`
}

// Duration returns the elapsed time of a finished run, zero while running.
func (h *ProcessHistory) Duration() time.Duration {
	if h.EndTime == nil {
		return 0
	}
	return h.EndTime.Sub(h.StartTime)
}

// ProcessSummaryRow is one aggregated row for operator dashboards
// 処理種別ごとの集計行
type ProcessSummaryRow struct {
	ProcessType    ProcessType `json:"process_type" db:"process_type"`
	CompletedCount int         `json:"completed_count" db:"completed_count"`
	FailedCount    int         `json:"failed_count" db:"failed_count"`
	LastJobDate    *time.Time  `json:"last_job_date,omitempty" db:"last_job_date"`
}

// ProcessContext threads the state of one batch run
// 1回のバッチ実行で共有する処理コンテキスト
type ProcessContext struct {
	RunID         string             // ログ相関用の実行ID
	JobDate       time.Time          // 汎用日付
	ProcessType   ProcessType        // 処理種別
	DataSetID     string             // データセットID
	DataSet       *DataSetManagement // 登録済みデータセット
	History       *ProcessHistory    // 処理履歴
	ImportedFiles []string           // 取込ファイル
	ExecutedBy    string             // 実行者
	Department    string             // 部門
	StartedAt     time.Time          // 開始時刻
}

// Request describes a batch run to initialize
// バッチ処理の実行要求
type Request struct {
	JobDate        time.Time
	ProcessType    ProcessType
	ImportedFiles  []string
	ExecutedBy     string
	Department     string
	AllowDuplicate bool // 重複処理チェックを無効化（開発用）
}

// ValidationResult is the outcome of job date validation
// 日付検証結果
type ValidationResult struct {
	IsValid bool   `json:"is_valid"`
	Message string `json:"message,omitempty"`
}

// ValidationSuccess returns a passing result.
func ValidationSuccess() ValidationResult {
	return ValidationResult{IsValid: true}
}

// ValidationFailure returns a failing result carrying an operator message.
func ValidationFailure(message string) ValidationResult {
	return ValidationResult{IsValid: false, Message: message}
}

// DateRange is an inclusive pair of calendar dates
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}
