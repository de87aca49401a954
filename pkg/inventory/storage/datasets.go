package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nemonet1337/zaiGoBatch/pkg/batch"
)

const dataSetColumns = `data_set_id, job_date, process_type, import_type, name, description, imported_files,
	record_count, total_record_count, is_active, is_archived, archived_at, archived_by,
	parent_data_set_id, created_by, department, notes, status, error_message, created_at, updated_at`

// DataSetRepository implements batch.DataSetRepository
// データセット管理のリポジトリ
type DataSetRepository struct {
	s *PostgreSQLStorage
}

var _ batch.DataSetRepository = (*DataSetRepository)(nil)

// Create inserts ds; a taken id fails with batch.ErrDuplicateDataSet
// データセットを登録
func (r *DataSetRepository) Create(ctx context.Context, ds *batch.DataSetManagement) error {
	query := `INSERT INTO data_set_management (` + dataSetColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`

	_, err := r.s.db.ExecContext(ctx, query,
		ds.DataSetID,
		r.s.dateParam(ds.JobDate),
		ds.ProcessType,
		ds.ImportType,
		ds.Name,
		ds.Description,
		ds.ImportedFiles,
		ds.RecordCount,
		ds.TotalRecordCount,
		ds.IsActive,
		ds.IsArchived,
		nullTime(ds.ArchivedAt),
		ds.ArchivedBy,
		ds.ParentDataSetID,
		ds.CreatedBy,
		ds.Department,
		ds.Notes,
		ds.Status,
		ds.ErrorMessage,
		ds.CreatedAt,
		ds.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", batch.ErrDuplicateDataSet, ds.DataSetID)
		}
		return fmt.Errorf("データセット作成に失敗しました: %w", err)
	}
	return nil
}

// GetByID loads a data set; an unknown id fails with batch.ErrDataSetNotFound
// データセットを取得
func (r *DataSetRepository) GetByID(ctx context.Context, dataSetID string) (*batch.DataSetManagement, error) {
	query := `SELECT ` + dataSetColumns + ` FROM data_set_management WHERE data_set_id = $1`
	ds, err := r.scan(r.s.db.QueryRowContext(ctx, query, dataSetID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", batch.ErrDataSetNotFound, dataSetID)
		}
		return nil, fmt.Errorf("データセット取得に失敗しました: %w", err)
	}
	return ds, nil
}

// GetLatestByJobDateAndType returns the newest data set of the pair, or nil
func (r *DataSetRepository) GetLatestByJobDateAndType(ctx context.Context, jobDate time.Time, processType batch.ProcessType) (*batch.DataSetManagement, error) {
	query := `SELECT ` + dataSetColumns + ` FROM data_set_management
		WHERE job_date = $1 AND process_type = $2
		ORDER BY created_at DESC, data_set_id DESC
		LIMIT 1`
	ds, err := r.scan(r.s.db.QueryRowContext(ctx, query, r.s.dateParam(jobDate), processType))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("データセット取得に失敗しました: %w", err)
	}
	return ds, nil
}

// Update writes every mutable column of ds
// データセットを更新
func (r *DataSetRepository) Update(ctx context.Context, ds *batch.DataSetManagement) error {
	query := `
		UPDATE data_set_management
		SET record_count = $2, total_record_count = $3, is_active = $4, is_archived = $5,
		    archived_at = $6, archived_by = $7, parent_data_set_id = $8, notes = $9,
		    status = $10, error_message = $11, updated_at = $12
		WHERE data_set_id = $1`

	result, err := r.s.db.ExecContext(ctx, query,
		ds.DataSetID,
		ds.RecordCount,
		ds.TotalRecordCount,
		ds.IsActive,
		ds.IsArchived,
		nullTime(ds.ArchivedAt),
		ds.ArchivedBy,
		ds.ParentDataSetID,
		ds.Notes,
		ds.Status,
		ds.ErrorMessage,
		ds.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("データセット更新に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新行数の取得に失敗しました: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", batch.ErrDataSetNotFound, ds.DataSetID)
	}
	return nil
}

func (r *DataSetRepository) scan(row *sql.Row) (*batch.DataSetManagement, error) {
	var (
		ds         batch.DataSetManagement
		archivedAt sql.NullTime
	)
	err := row.Scan(
		&ds.DataSetID,
		&ds.JobDate,
		&ds.ProcessType,
		&ds.ImportType,
		&ds.Name,
		&ds.Description,
		&ds.ImportedFiles,
		&ds.RecordCount,
		&ds.TotalRecordCount,
		&ds.IsActive,
		&ds.IsArchived,
		&archivedAt,
		&ds.ArchivedBy,
		&ds.ParentDataSetID,
		&ds.CreatedBy,
		&ds.Department,
		&ds.Notes,
		&ds.Status,
		&ds.ErrorMessage,
		&ds.CreatedAt,
		&ds.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	ds.JobDate = r.s.fromDate(ds.JobDate)
	ds.ArchivedAt = timePtr(archivedAt)
	return &ds, nil
}
