package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	applog "cdpflow/internal/logger"
	"cdpflow/pkg/domain"
)

// CaptureRecord 一条已持久化的拦截结果
type CaptureRecord struct {
	ID        uint   `gorm:"primaryKey"`
	SessionID string `gorm:"index"`
	Target    string `gorm:"index"`
	Class     string `gorm:"index"`
	Action    string
	Command   string
	Outcome   string `gorm:"index"`
	Error     string
	EventTime int64
	CreatedAt time.Time
}

// Store 拦截结果的 SQLite 持久层
type Store struct {
	db *gorm.DB
}

// Open 打开（必要时创建）数据库并完成迁移
func Open(dsn, tablePrefix string, l applog.Logger) (*Store, error) {
	if dsn == "" {
		dsn = "captures.sqlite3"
	}
	if l == nil {
		l = applog.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: NewGormLogger(l),
		NamingStrategy: schema.NamingStrategy{
			TablePrefix: tablePrefix,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	if err := db.AutoMigrate(&CaptureRecord{}); err != nil {
		return nil, fmt.Errorf("数据库迁移失败: %w", err)
	}
	return &Store{db: db}, nil
}

// Record 持久化一条拦截结果
func (s *Store) Record(ctx context.Context, evt domain.InterceptEvent) error {
	rec := CaptureRecord{
		SessionID: string(evt.Session),
		Target:    string(evt.Target),
		Class:     evt.Class,
		Action:    evt.Action,
		Command:   evt.Command,
		Outcome:   evt.Outcome,
		Error:     evt.Error,
		EventTime: evt.Timestamp,
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

// Recent 按时间倒序取最近的拦截结果
func (s *Store) Recent(ctx context.Context, session domain.SessionID, limit int) ([]CaptureRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []CaptureRecord
	q := s.db.WithContext(ctx).Order("id desc").Limit(limit)
	if session != "" {
		q = q.Where("session_id = ?", string(session))
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Close 关闭底层连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
