package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nemonet1337/zaiGoBatch/pkg/batch"
)

const historyColumns = `id, data_set_id, job_date, process_type, start_time, end_time, status, executed_by, error_message`

// HistoryRepository implements batch.HistoryRepository and batch.HistorySummarizer
// 処理履歴のリポジトリ
type HistoryRepository struct {
	s *PostgreSQLStorage
}

var (
	_ batch.HistoryRepository = (*HistoryRepository)(nil)
	_ batch.HistorySummarizer = (*HistoryRepository)(nil)
)

// Create inserts h and assigns its id
// 処理履歴を登録
func (r *HistoryRepository) Create(ctx context.Context, h *batch.ProcessHistory) error {
	query := `
		INSERT INTO process_history (data_set_id, job_date, process_type, start_time, end_time, status, executed_by, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	err := r.s.db.QueryRowContext(ctx, query,
		h.DataSetID,
		r.s.dateParam(h.JobDate),
		h.ProcessType,
		h.StartTime,
		nullTime(h.EndTime),
		h.Status,
		h.ExecutedBy,
		h.ErrorMessage,
	).Scan(&h.ID)
	if err != nil {
		return fmt.Errorf("処理履歴作成に失敗しました: %w", err)
	}
	return nil
}

// GetByID loads a history; an unknown id fails with batch.ErrHistoryNotFound
func (r *HistoryRepository) GetByID(ctx context.Context, id int64) (*batch.ProcessHistory, error) {
	query := `SELECT ` + historyColumns + ` FROM process_history WHERE id = $1`
	h, err := r.scan(r.s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, batch.ErrHistoryNotFound
		}
		return nil, fmt.Errorf("処理履歴取得に失敗しました: %w", err)
	}
	return h, nil
}

// Update writes the end time, status and message of h
// 処理履歴を更新
func (r *HistoryRepository) Update(ctx context.Context, h *batch.ProcessHistory) error {
	query := `UPDATE process_history SET end_time = $2, status = $3, error_message = $4 WHERE id = $1`
	result, err := r.s.db.ExecContext(ctx, query, h.ID, nullTime(h.EndTime), h.Status, h.ErrorMessage)
	if err != nil {
		return fmt.Errorf("処理履歴更新に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新行数の取得に失敗しました: %w", err)
	}
	if n == 0 {
		return batch.ErrHistoryNotFound
	}
	return nil
}

// GetLastSuccessful returns the completed run with the latest job date, or nil
// 最終成功処理を取得
func (r *HistoryRepository) GetLastSuccessful(ctx context.Context, processType batch.ProcessType) (*batch.ProcessHistory, error) {
	query := `SELECT ` + historyColumns + ` FROM process_history
		WHERE process_type = $1 AND status = $2
		ORDER BY job_date DESC, end_time DESC
		LIMIT 1`
	h, err := r.scan(r.s.db.QueryRowContext(ctx, query, processType, batch.ProcessStatusCompleted))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("最終成功処理の取得に失敗しました: %w", err)
	}
	return h, nil
}

// GetByJobDateAndType returns every run of the pair, oldest first
// 処理履歴一覧を取得
func (r *HistoryRepository) GetByJobDateAndType(ctx context.Context, jobDate time.Time, processType batch.ProcessType) ([]batch.ProcessHistory, error) {
	query := `SELECT ` + historyColumns + ` FROM process_history
		WHERE job_date = $1 AND process_type = $2
		ORDER BY start_time, id`
	rows, err := r.s.db.QueryContext(ctx, query, r.s.dateParam(jobDate), processType)
	if err != nil {
		return nil, fmt.Errorf("処理履歴取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var out []batch.ProcessHistory
	for rows.Next() {
		h, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("処理履歴のスキャンに失敗しました: %w", err)
		}
		out = append(out, *h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("処理履歴取得に失敗しました: %w", err)
	}
	return out, nil
}

// Summarize counts completed and failed runs per process type in [from, to]
// 処理種別ごとの実行件数を集計
func (r *HistoryRepository) Summarize(ctx context.Context, from, to time.Time) ([]batch.ProcessSummaryRow, error) {
	query := `
		SELECT process_type,
		       COUNT(*) FILTER (WHERE status = 'Completed'),
		       COUNT(*) FILTER (WHERE status = 'Failed'),
		       MAX(job_date) FILTER (WHERE status = 'Completed')
		FROM process_history
		WHERE job_date BETWEEN $1 AND $2
		GROUP BY process_type
		ORDER BY process_type`
	rows, err := r.s.db.QueryContext(ctx, query, r.s.dateParam(from), r.s.dateParam(to))
	if err != nil {
		return nil, fmt.Errorf("処理履歴の集計に失敗しました: %w", err)
	}
	defer rows.Close()

	var out []batch.ProcessSummaryRow
	for rows.Next() {
		var (
			row  batch.ProcessSummaryRow
			last sql.NullTime
		)
		if err := rows.Scan(&row.ProcessType, &row.CompletedCount, &row.FailedCount, &last); err != nil {
			return nil, fmt.Errorf("集計結果のスキャンに失敗しました: %w", err)
		}
		if last.Valid {
			d := r.s.fromDate(last.Time)
			row.LastJobDate = &d
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("処理履歴の集計に失敗しました: %w", err)
	}
	return out, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *HistoryRepository) scan(row rowScanner) (*batch.ProcessHistory, error) {
	var (
		h   batch.ProcessHistory
		end sql.NullTime
	)
	if err := row.Scan(&h.ID, &h.DataSetID, &h.JobDate, &h.ProcessType, &h.StartTime, &end, &h.Status, &h.ExecutedBy, &h.ErrorMessage); err != nil {
		return nil, err
	}
	h.JobDate = r.s.fromDate(h.JobDate)
	h.EndTime = timePtr(end)
	return &h, nil
}
