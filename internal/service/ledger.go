package service

import (
	"context"
	"time"

	"github.com/pingcap/errors"
	"github.com/samber/lo"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	cerrors "cdcflow/internal/errors"
	"cdcflow/internal/model"
	"cdcflow/internal/nifi"
)

// Ledger keeps a history of the flows this tool created.
type Ledger struct {
	db      *gorm.DB
	baseURL string
}

// NewLedger wraps an already opened database.
func NewLedger(db *gorm.DB, nifiBaseURL string) *Ledger {
	return &Ledger{db: db, baseURL: nifiBaseURL}
}

// OpenLedger connects to MySQL and makes sure the ledger table exists.
func OpenLedger(dsn, nifiBaseURL string) (*Ledger, error) {
	db, err := initDB(dsn)
	if err != nil {
		return nil, errors.Annotate(err, "初始化账本数据库失败")
	}
	if err := db.AutoMigrate(&model.FlowRecord{}); err != nil {
		return nil, errors.Annotate(err, "migrate ledger table")
	}
	return NewLedger(db, nifiBaseURL), nil
}

// Record stores a completed flow.
func (l *Ledger) Record(ctx context.Context, result *FlowResult, startedAt time.Time) error {
	record := model.FlowRecord{
		MappingName:     result.MappingName,
		ProcessorIDs:    lo.MapValues(result.Processors, func(e *nifi.Entity, _ string) string { return e.ResourceID() }),
		ConnectionCount: len(result.Connections),
		NiFiBaseURL:     l.baseURL,
		StartedAt:       startedAt,
	}
	if result.ProcessGroup != nil {
		record.ProcessGroupID = result.ProcessGroup.ResourceID()
		record.ProcessGroupName = result.ProcessGroup.Component.Name
	}
	if result.SourceService != nil {
		record.SourceServiceID = result.SourceService.ResourceID()
	}
	if result.TargetService != nil {
		record.TargetServiceID = result.TargetService.ResourceID()
	}

	if err := l.db.WithContext(ctx).Create(&record).Error; err != nil {
		return cerrors.ErrLedgerWrite.Wrap(err).GenWithStackByArgs(result.MappingName)
	}
	return nil
}

// History returns the most recent flows created for a mapping, newest first.
func (l *Ledger) History(ctx context.Context, mappingName string, limit int) ([]model.FlowRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	var records []model.FlowRecord
	err := l.db.WithContext(ctx).
		Where("mapping_name = ?", mappingName).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, errors.Annotatef(err, "query ledger for mapping %s", mappingName)
	}
	return records, nil
}

// Close releases the underlying connection pool.
func (l *Ledger) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// initDB 初始化数据库连接
func initDB(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true, // 使用单数表名
		},
	})
	if err != nil {
		return nil, err
	}

	// 设置连接池
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetMaxOpenConns(4)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}
