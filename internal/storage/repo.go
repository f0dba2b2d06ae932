package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"shopharness/pkg/model"
	"shopharness/pkg/rulespec"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("storage: not found")

// FixtureRepo 命名规则集仓储
type FixtureRepo struct {
	db *gorm.DB
}

// Save 保存规则集，同名覆盖
func (r *FixtureRepo) Save(ctx context.Context, cfg rulespec.Config) error {
	if cfg.Name == "" {
		return errors.New("fixture name is required")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(cfg.Rules)
	if err != nil {
		return fmt.Errorf("encode rules: %w", err)
	}
	rec := FixtureRecord{
		Name:      cfg.Name,
		Version:   cfg.Version,
		RulesJSON: string(data),
		RuleCount: len(cfg.Rules),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"version", "rules_json", "rule_count", "updated_at"}),
	}).Create(&rec).Error
}

// Get 按名称读取规则集
func (r *FixtureRepo) Get(ctx context.Context, name string) (*rulespec.Config, error) {
	var rec FixtureRecord
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("fixture %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	cfg := &rulespec.Config{Version: rec.Version, Name: rec.Name}
	if err := json.Unmarshal([]byte(rec.RulesJSON), &cfg.Rules); err != nil {
		return nil, fmt.Errorf("decode fixture %s: %w", name, err)
	}
	return cfg, nil
}

// List 按名称排序列出规则集，不含规则内容
func (r *FixtureRepo) List(ctx context.Context) ([]FixtureRecord, error) {
	var recs []FixtureRecord
	err := r.db.WithContext(ctx).Omit("rules_json").Order("name").Find(&recs).Error
	return recs, err
}

// Delete 删除规则集
func (r *FixtureRepo) Delete(ctx context.Context, name string) error {
	res := r.db.WithContext(ctx).Where("name = ?", name).Delete(&FixtureRecord{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("fixture %s: %w", name, ErrNotFound)
	}
	return nil
}

// RunRepo 执行历史仓储
type RunRepo struct {
	db *gorm.DB
}

// Save 批量保存执行结果
func (r *RunRepo) Save(ctx context.Context, recs []RunRecord) error {
	if len(recs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&recs).Error
}

// ByRun 返回一次执行的全部结果
func (r *RunRepo) ByRun(ctx context.Context, runID string) ([]RunRecord, error) {
	var recs []RunRecord
	err := r.db.WithContext(ctx).Where("run_id = ?", runID).Order("id").Find(&recs).Error
	return recs, err
}

// Recent 最近的执行结果
func (r *RunRepo) Recent(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var recs []RunRecord
	err := r.db.WithContext(ctx).Order("id desc").Limit(limit).Find(&recs).Error
	return recs, err
}

// EventRepo 拦截事件仓储
type EventRepo struct {
	db *gorm.DB
}

// SaveBatch 批量保存事件
func (r *EventRepo) SaveBatch(ctx context.Context, runID string, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}
	recs := make([]EventRecord, 0, len(events))
	for _, e := range events {
		var ruleID *string
		if e.Rule != nil {
			s := string(*e.Rule)
			ruleID = &s
		}
		recs = append(recs, EventRecord{
			RunID:      runID,
			SessionID:  string(e.Session),
			Type:       e.Type,
			URL:        e.URL,
			Method:     e.Method,
			StatusCode: e.Status,
			RuleID:     ruleID,
			Error:      e.Error,
			Timestamp:  e.Timestamp,
		})
	}
	return r.db.WithContext(ctx).CreateInBatches(&recs, 200).Error
}

// ByRun 返回一次执行的事件，type 为空时不过滤
func (r *EventRepo) ByRun(ctx context.Context, runID, typ string) ([]EventRecord, error) {
	q := r.db.WithContext(ctx).Where("run_id = ?", runID)
	if typ != "" {
		q = q.Where("type = ?", typ)
	}
	var recs []EventRecord
	err := q.Order("id").Find(&recs).Error
	return recs, err
}

// Purge 删除早于时间戳的事件
func (r *EventRepo) Purge(ctx context.Context, before int64) (int64, error) {
	res := r.db.WithContext(ctx).Where("timestamp < ?", before).Delete(&EventRecord{})
	return res.RowsAffected, res.Error
}
