package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiGoBatch/internal/app"
	"github.com/nemonet1337/zaiGoBatch/pkg/batch"
	"github.com/nemonet1337/zaiGoBatch/pkg/inventory"
)

type historyService interface {
	GetProcessHistory(ctx context.Context, jobDate time.Time, processType batch.ProcessType) ([]batch.ProcessHistory, error)
	GetLastSuccessfulProcess(ctx context.Context, processType batch.ProcessType) (*batch.ProcessHistory, error)
}

type dataSetService interface {
	GetDataSet(ctx context.Context, dataSetID string) (*batch.DataSetManagement, error)
}

type dateValidator interface {
	ValidateJobDate(ctx context.Context, jobDate time.Time, processType batch.ProcessType, allowDuplicate bool) (batch.ValidationResult, error)
	Location() *time.Location
}

type closeInspector interface {
	Inspect(ctx context.Context, jobDate time.Time) (*batch.DailyCloseReadiness, error)
}

type batchService interface {
	RunCarryover(ctx context.Context, jobDate time.Time, executedBy string, allowDuplicate bool) (*batch.ProcessContext, *inventory.CarryoverResult, error)
	RunDailyClose(ctx context.Context, jobDate time.Time, executedBy string) (*batch.ProcessContext, error)
}

type valuationService interface {
	Evaluate(ctx context.Context, jobDate time.Time) (*inventory.Valuation, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds HTTP handlers for the batch API
// バッチAPI用のHTTPハンドラーを保持
type Handlers struct {
	history  historyService
	dataSets dataSetService
	dates    dateValidator
	guard    closeInspector
	batches  batchService
	values   valuationService
	db       pinger
	validate *validator.Validate
	logger   *zap.Logger
	now      func() time.Time
}

// NewHandlers creates HTTP handlers on the services of a
// 新しいHTTPハンドラーを作成
func NewHandlers(a *app.App, logger *zap.Logger) *Handlers {
	return &Handlers{
		history:  a.Runner.History(),
		dataSets: a.Runner.DataSets(),
		dates:    a.Runner.Validator(),
		guard:    a.Guard,
		batches:  a,
		values:   a.Valuation,
		db:       a.Store,
		validate: validator.New(),
		logger:   logger,
		now:      time.Now,
	}
}

// APIResponse represents standard API response format
// 標準的なAPIレスポンス形式を表現
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// ValidateDateRequest represents request to validate a job date
// 汎用日付検証リクエストを表現
type ValidateDateRequest struct {
	JobDate        string `json:"job_date" validate:"required"`
	ProcessType    string `json:"process_type" validate:"required"`
	AllowDuplicate bool   `json:"allow_duplicate"`
}

// RunRequest represents request to run a batch
// バッチ実行リクエストを表現
type RunRequest struct {
	JobDate        string `json:"job_date" validate:"required"`
	ExecutedBy     string `json:"executed_by" validate:"omitempty,max=50"`
	AllowDuplicate bool   `json:"allow_duplicate"`
}

// RunResponse is returned by a finished run
type RunResponse struct {
	DataSetID string                     `json:"data_set_id"`
	RunID     string                     `json:"run_id"`
	JobDate   string                     `json:"job_date"`
	Message   string                     `json:"message,omitempty"`
	Carryover *inventory.CarryoverResult `json:"carryover,omitempty"`
}

// HealthCheck handles health check requests
// ヘルスチェックリクエストを処理
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			h.logger.Warn("データベース接続確認に失敗しました", zap.Error(err))
			h.sendError(w, http.StatusServiceUnavailable, "データベースに接続できません")
			return
		}
	}

	h.sendSuccess(w, map[string]interface{}{
		"status":    status,
		"timestamp": h.now(),
		"service":   "zaiGoBatch",
	})
}

// ValidateDate handles job date validation requests
// 汎用日付検証リクエストを処理
func (h *Handlers) ValidateDate(w http.ResponseWriter, r *http.Request) {
	var req ValidateDateRequest
	if !h.decode(w, r, &req) {
		return
	}
	jobDate, ok := h.parseDate(w, req.JobDate)
	if !ok {
		return
	}
	processType, err := batch.ParseProcessType(req.ProcessType)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.dates.ValidateJobDate(r.Context(), jobDate, processType, req.AllowDuplicate)
	if err != nil {
		h.sendFailure(w, err)
		return
	}
	h.sendSuccess(w, result)
}

// RunCarryover handles carryover requests
// 前日在庫引継リクエストを処理
func (h *Handlers) RunCarryover(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if !h.decode(w, r, &req) {
		return
	}
	jobDate, ok := h.parseDate(w, req.JobDate)
	if !ok {
		return
	}

	pc, res, err := h.batches.RunCarryover(r.Context(), jobDate, req.ExecutedBy, req.AllowDuplicate)
	if err != nil {
		h.sendFailure(w, err)
		return
	}
	h.sendSuccess(w, h.runResponse(pc, res))
}

// RunDailyClose handles daily close requests
// 日次終了処理リクエストを処理
func (h *Handlers) RunDailyClose(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if !h.decode(w, r, &req) {
		return
	}
	jobDate, ok := h.parseDate(w, req.JobDate)
	if !ok {
		return
	}

	pc, err := h.batches.RunDailyClose(r.Context(), jobDate, req.ExecutedBy)
	if err != nil {
		h.sendFailure(w, err)
		return
	}
	h.sendSuccess(w, h.runResponse(pc, nil))
}

// GetDailyCloseReadiness reports whether the daily close can run
// 日次終了処理の実行可否を取得
func (h *Handlers) GetDailyCloseReadiness(w http.ResponseWriter, r *http.Request) {
	jobDate, ok := h.parseDate(w, r.URL.Query().Get("job_date"))
	if !ok {
		return
	}
	readiness, err := h.guard.Inspect(r.Context(), jobDate)
	if err != nil {
		h.sendFailure(w, err)
		return
	}
	h.sendSuccess(w, readiness)
}

// GetHistory handles process history requests
// 処理履歴リクエストを処理
func (h *Handlers) GetHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	jobDate, ok := h.parseDate(w, q.Get("job_date"))
	if !ok {
		return
	}
	processType, err := batch.ParseProcessType(q.Get("process_type"))
	if err != nil {
		h.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	histories, err := h.history.GetProcessHistory(r.Context(), jobDate, processType)
	if err != nil {
		h.sendFailure(w, err)
		return
	}
	if histories == nil {
		histories = []batch.ProcessHistory{}
	}
	h.sendSuccess(w, histories)
}

// GetLastSuccess handles last successful process requests
// 最終成功処理リクエストを処理
func (h *Handlers) GetLastSuccess(w http.ResponseWriter, r *http.Request) {
	processType, err := batch.ParseProcessType(mux.Vars(r)["processType"])
	if err != nil {
		h.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	last, err := h.history.GetLastSuccessfulProcess(r.Context(), processType)
	if err != nil {
		h.sendFailure(w, err)
		return
	}
	if last == nil {
		h.sendError(w, http.StatusNotFound, "成功した処理履歴がありません")
		return
	}
	h.sendSuccess(w, last)
}

// GetDataSet handles data set requests
// データセット取得リクエストを処理
func (h *Handlers) GetDataSet(w http.ResponseWriter, r *http.Request) {
	ds, err := h.dataSets.GetDataSet(r.Context(), mux.Vars(r)["dataSetId"])
	if err != nil {
		h.sendFailure(w, err)
		return
	}
	h.sendSuccess(w, ds)
}

// GetValuation handles inventory valuation requests
// 在庫評価リクエストを処理
func (h *Handlers) GetValuation(w http.ResponseWriter, r *http.Request) {
	jobDate, ok := h.parseDate(w, r.URL.Query().Get("job_date"))
	if !ok {
		return
	}
	v, err := h.values.Evaluate(r.Context(), jobDate)
	if err != nil {
		h.sendFailure(w, err)
		return
	}
	h.sendSuccess(w, v)
}

// ヘルパーメソッド

func (h *Handlers) runResponse(pc *batch.ProcessContext, res *inventory.CarryoverResult) RunResponse {
	resp := RunResponse{
		DataSetID: pc.DataSetID,
		RunID:     pc.RunID,
		JobDate:   pc.JobDate.Format("2006-01-02"),
		Carryover: res,
	}
	if pc.History != nil {
		resp.Message = pc.History.ErrorMessage
	}
	return resp
}

// decode reads a JSON body and validates its struct tags
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なリクエスト形式です")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			h.sendError(w, http.StatusBadRequest, fieldMessage(verrs[0]))
			return false
		}
		h.sendError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " は必須です"
	case "max":
		return fe.Field() + " は " + fe.Param() + " 文字以内で指定してください"
	default:
		return fe.Field() + " が不正です"
	}
}

func (h *Handlers) parseDate(w http.ResponseWriter, s string) (time.Time, bool) {
	if s == "" {
		h.sendError(w, http.StatusBadRequest, "job_date を指定してください")
		return time.Time{}, false
	}
	jobDate, err := batch.ParseJobDate(s, h.dates.Location())
	if err != nil {
		h.sendError(w, http.StatusBadRequest, err.Error())
		return time.Time{}, false
	}
	return jobDate, true
}

// statusOf maps a service error onto an HTTP status
func statusOf(err error) int {
	var ve *batch.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, batch.ErrDataSetNotFound), errors.Is(err, batch.ErrHistoryNotFound),
		errors.Is(err, inventory.ErrNoActiveSnapshot):
		return http.StatusNotFound
	case errors.Is(err, batch.ErrAlreadyRunning), errors.Is(err, batch.ErrDuplicateDataSet):
		return http.StatusConflict
	case batch.IsValidationFailure(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) sendFailure(w http.ResponseWriter, err error) {
	code := statusOf(err)
	if code == http.StatusInternalServerError {
		h.logger.Error("リクエスト処理に失敗しました", zap.Error(err))
		h.sendError(w, code, "【異常終了】"+err.Error())
		return
	}
	h.sendError(w, code, err.Error())
}

// sendSuccess sends a successful API response
// 成功APIレスポンスを送信
func (h *Handlers) sendSuccess(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	response := APIResponse{
		Success: true,
		Data:    data,
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("レスポンス送信に失敗しました", zap.Error(err))
	}
}

// sendError sends an error API response
// エラーAPIレスポンスを送信
func (h *Handlers) sendError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := APIResponse{
		Success: false,
		Error:   message,
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("エラーレスポンス送信に失敗しました", zap.Error(err))
	}
}
