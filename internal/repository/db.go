package repository

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/user/medialib/internal/config"
	"github.com/user/medialib/internal/logging"
	"github.com/user/medialib/internal/model"
)

// InitDB 初始化数据库连接并迁移表结构
func InitDB(cfg *config.Config) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}
	if cfg.IsProduction() {
		gormCfg.Logger = logger.Default.LogMode(logger.Silent)
	}

	var (
		db  *gorm.DB
		err error
	)
	switch cfg.DBDriver {
	case "sqlite":
		db, err = openSQLite(cfg.SQLitePath, gormCfg)
	default:
		db, err = openPostgres(cfg.DatabaseURL, gormCfg)
	}
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	logging.Info().Str("driver", cfg.DBDriver).Msg("[DB] 数据库初始化完成")
	return db, nil
}

func openPostgres(databaseURL string, gormCfg *gorm.Config) (*gorm.DB, error) {
	sqlDB, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("无法连接数据库: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("数据库 ping 失败: %w", err)
	}

	// 设置连接池
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("初始化 gorm 失败: %w", err)
	}

	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		// 没有 pgvector 时向量列无法建表，直接报错
		return nil, fmt.Errorf("启用 pgvector 扩展失败: %w", err)
	}
	return db, nil
}

// OpenSQLite 单用户本地模式，测试也走这里
func OpenSQLite(path string) (*gorm.DB, error) {
	db, err := openSQLite(path, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func openSQLite(path string, gormCfg *gorm.Config) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("创建数据库目录失败: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000&_journal_mode=WAL"), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("打开 sqlite 失败: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// sqlite 单写者
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// Migrate 自动迁移
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&model.MediaRecord{},
		&model.Highlight{},
		&model.Note{},
		&model.Relation{},
		&model.Embedding{},
		&model.SyncState{},
	)
	if err != nil {
		return fmt.Errorf("数据库迁移失败: %w", err)
	}
	return nil
}

// Repositories 仓库集合
type Repositories struct {
	DB        *gorm.DB
	Media     *MediaRepository
	Embedding *EmbeddingRepository
	Highlight *HighlightRepository
	Relation  *RelationRepository
	Note      *NoteRepository
	SyncState *SyncStateRepository
}

// NewRepositories 创建仓库集合
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		DB:        db,
		Media:     NewMediaRepository(db),
		Embedding: NewEmbeddingRepository(db),
		Highlight: NewHighlightRepository(db),
		Relation:  NewRelationRepository(db),
		Note:      NewNoteRepository(db),
		SyncState: NewSyncStateRepository(db),
	}
}
