package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultCreatedBy  = "System"
	DefaultDepartment = "DeptA"
)

// DataSetParams describes a data set to build
// データセット作成パラメータ
type DataSetParams struct {
	DataSetID       string
	JobDate         time.Time
	ProcessType     ProcessType
	ImportType      ImportType // 0 の場合は処理種別から導出
	CreatedBy       string
	Department      string
	Name            string
	Description     string
	ImportedFiles   []string
	ParentDataSetID string
	Notes           string
}

// DataSetFactory builds data set records with consistent timestamps
// データセット管理レコードのファクトリ
type DataSetFactory struct {
	logger   *zap.Logger
	location *time.Location
	now      func() time.Time
}

// NewDataSetFactory creates a factory; loc is used for the wall-clock part of names.
func NewDataSetFactory(logger *zap.Logger, loc *time.Location) *DataSetFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = JST
	}
	return &DataSetFactory{logger: logger, location: loc, now: time.Now}
}

// WithNow overrides the clock.
func (f *DataSetFactory) WithNow(now func() time.Time) *DataSetFactory {
	if now != nil {
		f.now = now
	}
	return f
}

// CreateNew builds a Processing data set. CreatedAt and UpdatedAt are UTC.
func (f *DataSetFactory) CreateNew(p DataSetParams) (*DataSetManagement, error) {
	current := f.now()
	wall := current.In(f.location)
	utc := current.UTC()

	importType := p.ImportType
	if importType == 0 {
		importType = p.ProcessType.ImportType()
	}
	createdBy := p.CreatedBy
	if createdBy == "" {
		createdBy = DefaultCreatedBy
	}
	department := p.Department
	if department == "" {
		department = DefaultDepartment
	}
	name := p.Name
	if name == "" {
		name = fmt.Sprintf("%s_%s_%s", p.ProcessType, p.JobDate.Format("20060102"), wall.Format("150405"))
	}
	description := p.Description
	if description == "" {
		description = fmt.Sprintf("%s データセット (%s)", p.ProcessType, p.JobDate.Format("2006-01-02"))
	}

	var files string
	if p.ImportedFiles != nil {
		b, err := json.Marshal(p.ImportedFiles)
		if err != nil {
			return nil, fmt.Errorf("取込ファイル一覧のシリアライズに失敗しました: %w", err)
		}
		files = string(b)
	}

	ds := &DataSetManagement{
		DataSetID:       p.DataSetID,
		JobDate:         p.JobDate,
		ProcessType:     p.ProcessType,
		ImportType:      importType,
		Name:            name,
		Description:     description,
		ImportedFiles:   files,
		IsActive:        true,
		ParentDataSetID: p.ParentDataSetID,
		CreatedBy:       createdBy,
		Department:      department,
		Notes:           p.Notes,
		Status:          DataSetStatusProcessing,
		CreatedAt:       utc,
		UpdatedAt:       utc,
	}

	f.logger.Debug("データセット作成",
		zap.String("data_set_id", ds.DataSetID),
		zap.String("process_type", ds.ProcessType.String()),
		zap.String("import_type", ds.ImportType.String()),
	)
	return ds, nil
}

// CreateForCarryover builds a CARRYOVER data set pointing at its parent
// 繰越用データセットを作成
func (f *DataSetFactory) CreateForCarryover(dataSetID string, targetDate time.Time, department string, recordCount int, parentDataSetID, notes string) *DataSetManagement {
	current := f.now()
	wall := current.In(f.location)
	utc := current.UTC()

	if department == "" {
		department = DefaultDepartment
	}
	if notes == "" {
		notes = fmt.Sprintf("前日在庫繰越処理: %d件", recordCount)
	}

	ds := &DataSetManagement{
		DataSetID:        dataSetID,
		JobDate:          targetDate,
		ProcessType:      ProcessTypeCarryover,
		ImportType:       ImportTypeCarryover,
		Name:             fmt.Sprintf("CARRYOVER_%s_%s", targetDate.Format("20060102"), wall.Format("150405")),
		Description:      fmt.Sprintf("前日在庫繰越処理 (%s)", targetDate.Format("2006-01-02")),
		RecordCount:      recordCount,
		TotalRecordCount: recordCount,
		IsActive:         true,
		ParentDataSetID:  parentDataSetID,
		CreatedBy:        DefaultCreatedBy,
		Department:       department,
		Notes:            notes,
		Status:           DataSetStatusProcessing,
		CreatedAt:        utc,
		UpdatedAt:        utc,
	}

	f.logger.Info("繰越用データセット作成",
		zap.String("data_set_id", dataSetID),
		zap.String("target_date", targetDate.Format("2006-01-02")),
		zap.Int("record_count", recordCount),
	)
	return ds
}

// UpdateTimestamp refreshes UpdatedAt to the current UTC time.
func (f *DataSetFactory) UpdateTimestamp(ds *DataSetManagement) {
	if ds == nil {
		return
	}
	ds.UpdatedAt = f.now().UTC()
}

// DataSetManager generates ids and persists data sets
// データセット管理サービス
type DataSetManager struct {
	repo    DataSetRepository
	factory *DataSetFactory
	logger  *zap.Logger

	mu     sync.Mutex
	lastID string
	seq    int
}

// NewDataSetManager creates a new data set manager
// データセット管理サービスを作成
func NewDataSetManager(repo DataSetRepository, factory *DataSetFactory, logger *zap.Logger) *DataSetManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if factory == nil {
		factory = NewDataSetFactory(logger, JST)
	}
	return &DataSetManager{repo: repo, factory: factory, logger: logger}
}

// Factory returns the factory used for new records.
func (m *DataSetManager) Factory() *DataSetFactory {
	return m.factory
}

// GenerateDataSetID returns DS_{yyyyMMdd}_{HHmmss}_{ProcessType} built from the
// job date and the current wall-clock time. A second id within the same second
// for the same job date and type gets a _2, _3, ... suffix.
func (m *DataSetManager) GenerateDataSetID(jobDate time.Time, processType ProcessType) string {
	wall := m.factory.now().In(m.factory.location)
	id := fmt.Sprintf("DS_%s_%s_%s", jobDate.Format("20060102"), wall.Format("150405"), processType)

	m.mu.Lock()
	if id == m.lastID {
		m.seq++
	} else {
		m.lastID = id
		m.seq = 1
	}
	seq := m.seq
	m.mu.Unlock()

	if seq > 1 {
		id = fmt.Sprintf("%s_%d", id, seq)
	}
	m.logger.Info("データセットID生成", zap.String("data_set_id", id))
	return id
}

// CreateDataSet builds the data set for a run request
// 実行要求からデータセットを作成
func (m *DataSetManager) CreateDataSet(dataSetID string, req Request) (*DataSetManagement, error) {
	if req.ProcessType == ProcessTypeCarryover {
		ds := m.factory.CreateForCarryover(dataSetID, req.JobDate, req.Department, 0, "", "")
		if req.ExecutedBy != "" {
			ds.CreatedBy = req.ExecutedBy
		}
		return ds, nil
	}
	return m.factory.CreateNew(DataSetParams{
		DataSetID:     dataSetID,
		JobDate:       req.JobDate,
		ProcessType:   req.ProcessType,
		CreatedBy:     req.ExecutedBy,
		Department:    req.Department,
		ImportedFiles: req.ImportedFiles,
	})
}

// RegisterDataSet persists ds. Repository errors are returned to the caller.
func (m *DataSetManager) RegisterDataSet(ctx context.Context, ds *DataSetManagement) error {
	m.logger.Info("データセット登録開始",
		zap.String("data_set_id", ds.DataSetID),
		zap.String("process_type", ds.ProcessType.String()),
		zap.String("job_date", ds.JobDate.Format("2006-01-02")),
	)
	if err := m.repo.Create(ctx, ds); err != nil {
		m.logger.Error("データセット登録エラー", zap.String("data_set_id", ds.DataSetID), zap.Error(err))
		return fmt.Errorf("データセット登録に失敗しました: %w", err)
	}
	m.logger.Info("データセット登録完了", zap.String("data_set_id", ds.DataSetID))
	return nil
}

// UpdateDataSet refreshes UpdatedAt and persists ds.
func (m *DataSetManager) UpdateDataSet(ctx context.Context, ds *DataSetManagement) error {
	m.factory.UpdateTimestamp(ds)
	if err := m.repo.Update(ctx, ds); err != nil {
		m.logger.Error("データセット更新エラー", zap.String("data_set_id", ds.DataSetID), zap.Error(err))
		return fmt.Errorf("データセット更新に失敗しました: %w", err)
	}
	return nil
}

// GetLatestDataSetID returns the newest data set id for the pair, or "".
func (m *DataSetManager) GetLatestDataSetID(ctx context.Context, processType ProcessType, jobDate time.Time) (string, error) {
	ds, err := m.repo.GetLatestByJobDateAndType(ctx, jobDate, processType)
	if err != nil {
		return "", err
	}
	if ds == nil {
		return "", nil
	}
	return ds.DataSetID, nil
}

// GetDataSet loads a data set by id.
func (m *DataSetManager) GetDataSet(ctx context.Context, dataSetID string) (*DataSetManagement, error) {
	return m.repo.GetByID(ctx, dataSetID)
}
