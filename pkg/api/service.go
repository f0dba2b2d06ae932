package api

import (
	"context"

	"shopharness/internal/config"
	"shopharness/internal/logger"
	"shopharness/internal/service"
	"shopharness/internal/storage"
	"shopharness/pkg/rulespec"
)

type (
	// RunSummary 一次执行的结果汇总
	RunSummary = service.RunSummary

	// AuditRequest 审计参数
	AuditRequest = service.AuditRequest

	// Config 运行配置
	Config = config.Config

	// FixtureInfo 已存储规则集的概要
	FixtureInfo = storage.FixtureRecord

	// RunRecord 执行历史记录
	RunRecord = storage.RunRecord

	// EventRecord 拦截事件记录
	EventRecord = storage.EventRecord
)

// Service 服务接口
type Service interface {
	// RunBuiltin 执行内置店面场景
	RunBuiltin(ctx context.Context, tags []string) (*RunSummary, error)

	// RunSuite 执行 YAML 场景文件
	RunSuite(ctx context.Context, path string, tags []string) (*RunSummary, error)

	// Audit 执行可访问性与响应式审计
	Audit(ctx context.Context, req AuditRequest) (*RunSummary, error)

	// ImportFixture 导入规则集文件
	ImportFixture(ctx context.Context, path, name string) (*rulespec.Config, error)

	// SeedFixtures 写入内置规则集
	SeedFixtures(ctx context.Context) ([]string, error)

	// Fixture 读取规则集
	Fixture(ctx context.Context, name string) (*rulespec.Config, error)

	// Fixtures 列出规则集
	Fixtures(ctx context.Context) ([]FixtureInfo, error)

	// DeleteFixture 删除规则集
	DeleteFixture(ctx context.Context, name string) error

	// History 查询执行历史
	History(ctx context.Context, runID string) ([]RunRecord, []EventRecord, error)

	// Close 释放浏览器、会话和数据库
	Close() error
}

var _ Service = (*service.Service)(nil)

// NewService 创建并返回服务接口实现
func NewService(ctx context.Context, cfg *Config, l logger.Logger) (Service, error) {
	s, err := service.New(ctx, cfg, l)
	if err != nil {
		return nil, err
	}
	return s, nil
}
