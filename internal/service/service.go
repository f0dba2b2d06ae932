package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"shopharness/internal/assert"
	"shopharness/internal/audit"
	"shopharness/internal/cdp"
	"shopharness/internal/config"
	"shopharness/internal/ctxkeys"
	"shopharness/internal/driver"
	"shopharness/internal/logger"
	"shopharness/internal/pwdriver"
	"shopharness/internal/scenario"
	"shopharness/internal/session"
	"shopharness/internal/static"
	"shopharness/internal/storage"
	"shopharness/internal/storefront"
	"shopharness/internal/suite"
	"shopharness/pkg/model"
	"shopharness/pkg/rulespec"
)

// 执行记录类型
const (
	KindScenario = "scenario"
	KindAudit    = "audit"
)

// eventBuffer 事件通道容量
const eventBuffer = 1024

// RunSummary 一次执行的结果汇总
type RunSummary struct {
	RunID   string
	Results []scenario.Result
	Audits  []audit.Report
}

// Passed 所有场景和审计均通过
func (r *RunSummary) Passed() bool {
	for _, res := range r.Results {
		if !res.Passed {
			return false
		}
	}
	for _, rep := range r.Audits {
		if !rep.Passed() {
			return false
		}
	}
	return true
}

// AuditRequest 审计参数，字段为空时使用配置缺省值
type AuditRequest struct {
	Fixture   string
	Pages     []string
	Viewports []model.Viewport
}

// Service 组装浏览器后端、会话控制器、场景执行器、审计器与存储
type Service struct {
	cfg     *config.Config
	log     logger.Logger
	browser driver.Browser
	ctrl    *session.Controller
	runner  *scenario.Runner
	auditor *audit.Auditor
	db      *storage.DB

	events   chan model.Event
	flushReq chan chan struct{}
	done     chan struct{}

	mu      sync.Mutex
	pending []model.Event
	runOf   map[model.SessionID]string

	closeOnce sync.Once
	closeErr  error
}

// New 按配置创建服务
func New(ctx context.Context, cfg *config.Config, l logger.Logger) (*Service, error) {
	if l == nil {
		l = logger.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	db, err := storage.Open(storage.Options{DSN: cfg.Sqlite.Dsn, Prefix: cfg.Sqlite.Prefix}, l)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: cfg.Timeouts.Navigation}
	b, err := newBrowser(ctx, cfg, client, l)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return build(cfg, b, db, client, l), nil
}

// NewWith 使用已有浏览器后端和数据库创建服务
func NewWith(cfg *config.Config, b driver.Browser, db *storage.DB, l logger.Logger) *Service {
	if l == nil {
		l = logger.NewNop()
	}
	return build(cfg, b, db, nil, l)
}

func build(cfg *config.Config, b driver.Browser, db *storage.DB, client *http.Client, l logger.Logger) *Service {
	engine := assert.NewEngine(cfg.Timeouts.Poll, cfg.Timeouts.Assertion, l)
	s := &Service{
		cfg:      cfg,
		log:      l,
		browser:  b,
		db:       db,
		events:   make(chan model.Event, eventBuffer),
		flushReq: make(chan chan struct{}),
		done:     make(chan struct{}),
		runOf:    make(map[model.SessionID]string),
	}
	s.ctrl = session.NewController(b, session.Options{
		Defaults: cfg.SessionConfig(),
		Events:   s.events,
		Client:   client,
		Logger:   l,
	})
	s.runner = &scenario.Runner{
		Engine:        engine,
		ActionTimeout: cfg.Timeouts.Action,
		Parallel:      cfg.Parallel,
		Logger:        l,
	}
	s.auditor = &audit.Auditor{
		Engine:          engine,
		Settle:          cfg.Timeouts.Settle,
		MainTimeout:     cfg.Timeouts.Assertion,
		SnapshotTimeout: cfg.Timeouts.Snapshot,
		Logger:          l,
	}
	go s.drain()
	return s
}

// newBrowser 根据驱动名称创建浏览器后端
func newBrowser(ctx context.Context, cfg *config.Config, client *http.Client, l logger.Logger) (driver.Browser, error) {
	switch cfg.Browser.Driver {
	case config.DriverStatic:
		return static.New(static.Options{Client: client, Logger: l}), nil
	case config.DriverCDP:
		return cdp.New(ctx, cdp.Options{
			DevToolsURL: cfg.Browser.DevToolsURL,
			Launch: cdp.LaunchOptions{
				ExecPath: cfg.Browser.ExecPath,
				Headless: cfg.Browser.Headless,
				Args:     cfg.Browser.Args,
			},
		}, l)
	case config.DriverPlaywright:
		return pwdriver.Launch(pwdriver.Options{
			Headless: cfg.Browser.Headless,
			ExecPath: cfg.Browser.ExecPath,
			Args:     cfg.Browser.Args,
		}, l)
	}
	return nil, fmt.Errorf("unknown browser driver %q", cfg.Browser.Driver)
}

// Controller 返回会话控制器
func (s *Service) Controller() *session.Controller { return s.ctrl }

// RunScenarios 为每个场景打开独立会话并执行，tags 非空时只执行带任一标签的场景
func (s *Service) RunScenarios(ctx context.Context, scenarios []scenario.Scenario, tags []string) (*RunSummary, error) {
	scenarios = FilterTags(scenarios, tags)
	if len(scenarios) == 0 {
		return nil, errors.New("no scenarios selected")
	}
	runID := uuid.New().String()
	l := s.log.With("run", runID)
	l.Info("开始执行场景", "count", len(scenarios), "parallel", s.runner.Parallel)

	results := s.runner.RunAll(ctx, s.opener(runID), scenarios)

	recs := make([]storage.RunRecord, 0, len(results))
	for _, res := range results {
		rec := storage.RunRecord{
			RunID:       runID,
			Kind:        KindScenario,
			Name:        res.Name,
			Passed:      res.Passed,
			FailedIndex: res.FailedIndex,
			Steps:       res.Steps,
			DurationMs:  res.Duration.Milliseconds(),
		}
		if res.Err != nil {
			rec.Error = res.Err.Error()
		}
		recs = append(recs, rec)
	}
	sum := &RunSummary{RunID: runID, Results: results}
	if err := s.persist(ctx, runID, recs); err != nil {
		return sum, err
	}
	l.Info("场景执行结束", "passed", sum.Passed())
	return sum, nil
}

// RunBuiltin 执行内置店面场景
func (s *Service) RunBuiltin(ctx context.Context, tags []string) (*RunSummary, error) {
	scs := storefront.Scenarios()
	if s.cfg.BaseURL == "" {
		for i := range scs {
			if scs[i].Session.BaseURL == "" {
				scs[i].Session.BaseURL = storefront.BaseURL
			}
		}
	}
	return s.RunScenarios(ctx, scs, tags)
}

// RunSuite 加载 YAML 场景文件并执行，文件中定义的审计随后执行
func (s *Service) RunSuite(ctx context.Context, path string, tags []string) (*RunSummary, error) {
	st, err := suite.Load(path)
	if err != nil {
		return nil, err
	}
	if st.BaseURL == "" {
		st.BaseURL = s.cfg.BaseURL
	}
	scs, err := st.Build(s.fixtureSource(ctx))
	if err != nil {
		return nil, err
	}

	var sum *RunSummary
	if len(scs) > 0 {
		if sum, err = s.RunScenarios(ctx, scs, tags); err != nil {
			return sum, err
		}
	} else {
		sum = &RunSummary{RunID: uuid.New().String()}
	}
	if st.Audit != nil {
		req := AuditRequest{Fixture: st.Audit.Fixture, Pages: st.Audit.Pages, Viewports: st.Audit.Viewports}
		rules := storefront.Rules()
		if req.Fixture != "" {
			if rules, err = st.Rules(req.Fixture, s.fixtureSource(ctx)); err != nil {
				return sum, err
			}
		}
		reports, err := s.audit(ctx, sum.RunID, st.BaseURL, rules, req)
		sum.Audits = reports
		if err != nil {
			return sum, err
		}
	}
	return sum, nil
}

// Audit 在独立会话中对页面执行可访问性和响应式审计
func (s *Service) Audit(ctx context.Context, req AuditRequest) (*RunSummary, error) {
	rules := storefront.Rules()
	if req.Fixture != "" {
		var err error
		if rules, err = s.fixtureSource(ctx)(req.Fixture); err != nil {
			return nil, err
		}
	}
	runID := uuid.New().String()
	reports, err := s.audit(ctx, runID, s.cfg.BaseURL, rules, req)
	return &RunSummary{RunID: runID, Audits: reports}, err
}

func (s *Service) audit(ctx context.Context, runID, baseURL string, rules []rulespec.Rule, req AuditRequest) ([]audit.Report, error) {
	if baseURL == "" {
		baseURL = storefront.BaseURL
	}
	pages := req.Pages
	if len(pages) == 0 {
		pages = storefront.AuditPaths()
	}
	viewports := req.Viewports
	if len(viewports) == 0 {
		viewports = s.cfg.Viewports
	}

	sess, err := s.ctrl.Open(ctx, model.SessionConfig{BaseURL: baseURL})
	if err != nil {
		return nil, err
	}
	s.track(sess.ID(), runID)
	ctx = context.WithValue(ctx, ctxkeys.SessionIDKey{}, string(sess.ID()))
	defer func() {
		if err := sess.Close(); err != nil {
			s.log.Err(err, "关闭审计会话失败", "session", string(sess.ID()))
		}
	}()
	if err := sess.Install(rules); err != nil {
		return nil, err
	}

	start := time.Now()
	reports := s.auditor.AuditPages(ctx, sess, pages, viewports)
	recs := make([]storage.RunRecord, 0, len(reports))
	for _, rep := range reports {
		rec := storage.RunRecord{
			RunID:       runID,
			Kind:        KindAudit,
			Name:        rep.URL,
			Passed:      rep.Passed(),
			FailedIndex: -1,
			Steps:       len(rep.Viewports),
			DurationMs:  time.Since(start).Milliseconds(),
		}
		if n := rep.Count(); n > 0 {
			rec.Error = fmt.Sprintf("%d findings", n)
		}
		recs = append(recs, rec)
	}
	return reports, s.persist(ctx, runID, recs)
}

// opener 为执行器打开会话并登记所属执行
func (s *Service) opener(runID string) scenario.OpenFunc {
	return func(ctx context.Context, cfg model.SessionConfig) (scenario.Session, error) {
		sess, err := s.ctrl.Open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s.track(sess.ID(), runID)
		return sess, nil
	}
}

func (s *Service) track(id model.SessionID, runID string) {
	s.mu.Lock()
	s.runOf[id] = runID
	s.mu.Unlock()
}

// drain 收集拦截事件，写库前暂存在内存中
func (s *Service) drain() {
	defer close(s.done)
	for {
		select {
		case evt, ok := <-s.events:
			if !ok {
				return
			}
			s.add(evt)
		case ack := <-s.flushReq:
			s.collect()
			close(ack)
		}
	}
}

func (s *Service) add(evt model.Event) {
	s.mu.Lock()
	s.pending = append(s.pending, evt)
	s.mu.Unlock()
}

// collect 不阻塞地取出通道中已有的事件
func (s *Service) collect() {
	for {
		select {
		case evt, ok := <-s.events:
			if !ok {
				return
			}
			s.add(evt)
		default:
			return
		}
	}
}

// settle 等待 drain 取完调用前已发出的事件，drain 退出后直接返回
func (s *Service) settle() {
	ack := make(chan struct{})
	select {
	case s.flushReq <- ack:
		<-ack
	case <-s.done:
	}
}

// persist 保存执行记录并写入已收集的事件
func (s *Service) persist(ctx context.Context, runID string, recs []storage.RunRecord) error {
	ctx = context.WithValue(ctx, ctxkeys.TraceIDKey{}, runID)
	if err := s.db.Runs.Save(ctx, recs); err != nil {
		return fmt.Errorf("save run %s: %w", runID, err)
	}
	return s.flush(ctx)
}

// flush 按执行分组写入事件
func (s *Service) flush(ctx context.Context) error {
	s.settle()
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	groups := make(map[string][]model.Event)
	for _, evt := range pending {
		groups[s.runOf[evt.Session]] = append(groups[s.runOf[evt.Session]], evt)
	}
	s.mu.Unlock()

	var errs []error
	for runID, evts := range groups {
		if err := s.db.Events.SaveBatch(ctx, runID, evts); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// fixtureSource 先查数据库，再查内置规则集
func (s *Service) fixtureSource(ctx context.Context) suite.FixtureSource {
	return func(name string) ([]rulespec.Rule, error) {
		cfg, err := s.db.Fixtures.Get(ctx, name)
		if err == nil {
			return cfg.Rules, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		for _, f := range storefront.Fixtures() {
			if f.Name == name {
				return f.Rules, nil
			}
		}
		return nil, fmt.Errorf("%w: %s", suite.ErrUnknownFixture, name)
	}
}

// ImportFixture 从 JSON 或 YAML 文件导入规则集，name 非空时覆盖文件中的名称
func (s *Service) ImportFixture(ctx context.Context, path, name string) (*rulespec.Config, error) {
	cfg, err := rulespec.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if name != "" {
		cfg.Name = name
	}
	if err := s.db.Fixtures.Save(ctx, *cfg); err != nil {
		return nil, err
	}
	s.log.Info("导入规则集", "name", cfg.Name, "rules", len(cfg.Rules))
	return cfg, nil
}

// SeedFixtures 将内置店面规则集写入数据库
func (s *Service) SeedFixtures(ctx context.Context) ([]string, error) {
	var names []string
	for _, f := range storefront.Fixtures() {
		if err := s.db.Fixtures.Save(ctx, f); err != nil {
			return names, fmt.Errorf("seed %s: %w", f.Name, err)
		}
		names = append(names, f.Name)
	}
	return names, nil
}

// Fixture 读取规则集
func (s *Service) Fixture(ctx context.Context, name string) (*rulespec.Config, error) {
	return s.db.Fixtures.Get(ctx, name)
}

// Fixtures 列出规则集
func (s *Service) Fixtures(ctx context.Context) ([]storage.FixtureRecord, error) {
	return s.db.Fixtures.List(ctx)
}

// DeleteFixture 删除规则集
func (s *Service) DeleteFixture(ctx context.Context, name string) error {
	return s.db.Fixtures.Delete(ctx, name)
}

// History 返回一次执行的记录和事件，runID 为空时返回最近的执行记录
func (s *Service) History(ctx context.Context, runID string) ([]storage.RunRecord, []storage.EventRecord, error) {
	if runID == "" {
		runs, err := s.db.Runs.Recent(ctx, 0)
		return runs, nil, err
	}
	runs, err := s.db.Runs.ByRun(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	events, err := s.db.Events.ByRun(ctx, runID, "")
	return runs, events, err
}

// Close 关闭所有会话、浏览器和数据库，可重复调用
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		errs := []error{s.ctrl.CloseAll(), s.browser.Close()}
		close(s.events)
		<-s.done
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errs = append(errs, s.flush(ctx), s.db.Close())
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

// FilterTags 保留带任一标签的场景，tags 为空时全部保留
func FilterTags(scenarios []scenario.Scenario, tags []string) []scenario.Scenario {
	if len(tags) == 0 {
		return scenarios
	}
	out := make([]scenario.Scenario, 0, len(scenarios))
	for _, sc := range scenarios {
		if slices.ContainsFunc(tags, func(t string) bool { return slices.Contains(sc.Tags, t) || t == sc.Name }) {
			out = append(out, sc)
		}
	}
	return out
}
