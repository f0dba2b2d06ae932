package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	"shopharness/internal/logger"
)

// Options 数据库配置
type Options struct {
	DSN    string // sqlite 文件路径
	Prefix string // 表名前缀
}

// DB 数据库连接及仓储
type DB struct {
	gorm *gorm.DB

	Fixtures *FixtureRepo
	Runs     *RunRepo
	Events   *EventRepo
}

// Open 打开数据库连接，自动执行迁移
func Open(opts Options, l logger.Logger) (*DB, error) {
	if l == nil {
		l = logger.NewNop()
	}
	dsn := opts.DSN
	if dsn == "" {
		dsn = "shopcheck.sqlite3"
	}
	// 确保目录存在
	if !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
	}

	g, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         NewGormLogger(l).LogMode(gormlogger.Warn),
		NamingStrategy: schema.NamingStrategy{TablePrefix: opts.Prefix},
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	if err := autoMigrate(g); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	l.Debug("数据库已打开", "dsn", dsn, "prefix", opts.Prefix)
	return &DB{
		gorm:     g,
		Fixtures: &FixtureRepo{db: g},
		Runs:     &RunRepo{db: g},
		Events:   &EventRepo{db: g},
	}, nil
}

// Gorm 返回底层连接
func (d *DB) Gorm() *gorm.DB { return d.gorm }

// Close 关闭数据库连接
func (d *DB) Close() error {
	sqlDB, err := d.gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// autoMigrate 自动迁移所有模型
func autoMigrate(g *gorm.DB) error {
	return g.AutoMigrate(
		&FixtureRecord{},
		&RunRecord{},
		&EventRecord{},
	)
}
