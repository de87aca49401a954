package inventory

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TraceEntry is one observation of a tracked key
// 追跡対象キーの記録
type TraceEntry struct {
	Process            string          `json:"process"`              // 処理名
	Timestamp          time.Time       `json:"timestamp"`            // 記録日時
	Key                string          `json:"key"`                  // 在庫キー
	ProductName        string          `json:"product_name"`         // 商品名
	DataSetID          string          `json:"data_set_id"`          // データセットID
	ParentDataSetID    string          `json:"parent_data_set_id"`   // 引継元データセットID
	StandardPrice      decimal.Decimal `json:"standard_price"`       // 標準単価
	AveragePrice       decimal.Decimal `json:"average_price"`        // 平均単価
	CurrentStock       decimal.Decimal `json:"current_stock"`        // 現在在庫数
	CurrentStockAmount decimal.Decimal `json:"current_stock_amount"` // 現在在庫金額
	DailyStock         decimal.Decimal `json:"daily_stock"`          // 当日在庫数
	Note               string          `json:"note,omitempty"`       // 備考
	Diagnosis          string          `json:"diagnosis"`            // 診断
}

// Tracer follows one inventory key through a single batch run. It is created
// per run and discarded after Flush. A nil *Tracer records nothing.
type Tracer struct {
	runID  string
	target InventoryKey
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	entries []TraceEntry
}

// NewTracer creates a tracer for target
// 追跡トレーサーを作成
func NewTracer(runID string, target InventoryKey, logger *zap.Logger) *Tracer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracer{
		runID:  runID,
		target: target.Normalize(),
		logger: logger,
		now:    time.Now,
	}
}

// NewTracerFromConfig returns nil when trackKey is empty.
func NewTracerFromConfig(runID, trackKey string, logger *zap.Logger) (*Tracer, error) {
	if trackKey == "" {
		return nil, nil
	}
	key, err := ParseInventoryKey(trackKey)
	if err != nil {
		return nil, err
	}
	return NewTracer(runID, key, logger), nil
}

// Matches reports whether k is the tracked key.
func (t *Tracer) Matches(k InventoryKey) bool {
	return t != nil && t.target == k
}

// Track records m when it is the tracked key
// 追跡対象であれば在庫マスタの状態を記録
func (t *Tracer) Track(process string, m *InventoryMaster, note string) {
	if t == nil || m == nil || !t.Matches(m.InventoryKey) {
		return
	}

	entry := TraceEntry{
		Process:            process,
		Timestamp:          t.now(),
		Key:                m.InventoryKey.String(),
		ProductName:        m.ProductName,
		DataSetID:          m.DataSetID,
		ParentDataSetID:    m.ParentDataSetID,
		StandardPrice:      m.StandardPrice,
		AveragePrice:       m.AveragePrice,
		CurrentStock:       m.CurrentStock,
		CurrentStockAmount: m.CurrentStockAmount,
		DailyStock:         m.DailyStock,
		Note:               note,
		Diagnosis:          diagnose(m),
	}

	t.mu.Lock()
	t.entries = append(t.entries, entry)
	t.mu.Unlock()

	t.logger.Debug("在庫追跡",
		zap.String("run_id", t.runID),
		zap.String("process", process),
		zap.String("key", entry.Key),
		zap.String("current_stock", m.CurrentStock.String()),
		zap.String("diagnosis", entry.Diagnosis),
	)
}

func diagnose(m *InventoryMaster) string {
	switch {
	case m.CurrentStock.IsNegative():
		return "【問題】マイナス在庫"
	case m.StandardPrice.IsZero():
		return "【注意】標準単価0"
	default:
		return "正常"
	}
}

// Entries returns a copy of the recorded entries.
func (t *Tracer) Entries() []TraceEntry {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TraceEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Flush writes the entries as indented JSON to w.
func (t *Tracer) Flush(w io.Writer) error {
	if t == nil {
		return nil
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		RunID   string       `json:"run_id"`
		Target  string       `json:"target"`
		Entries []TraceEntry `json:"entries"`
	}{t.runID, t.target.String(), t.Entries()})
}

// SaveFile writes trace_{runID}.json under dir and logs a summary
// トレース結果をファイルに保存
func (t *Tracer) SaveFile(dir string) (string, error) {
	if t == nil {
		return "", nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("トレース出力先の作成に失敗しました: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("trace_%s.json", t.runID))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("トレースファイルの作成に失敗しました: %w", err)
	}
	defer f.Close()

	if err := t.Flush(f); err != nil {
		return "", fmt.Errorf("トレースの書き込みに失敗しました: %w", err)
	}
	t.LogSummary()
	return path, nil
}

// LogSummary logs one line per entry
func (t *Tracer) LogSummary() {
	if t == nil {
		return
	}
	entries := t.Entries()
	t.logger.Info("在庫追跡サマリー",
		zap.String("run_id", t.runID),
		zap.String("target", t.target.String()),
		zap.Int("entries", len(entries)),
	)
	for _, e := range entries {
		t.logger.Info("在庫追跡",
			zap.String("process", e.Process),
			zap.String("data_set_id", e.DataSetID),
			zap.String("current_stock", e.CurrentStock.String()),
			zap.String("current_stock_amount", e.CurrentStockAmount.String()),
			zap.String("diagnosis", e.Diagnosis),
		)
	}
}
