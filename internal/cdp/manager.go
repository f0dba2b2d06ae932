package cdp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/target"
	"github.com/mafredri/cdp/rpcc"
	"github.com/mafredri/cdp/session"

	"shopharness/internal/driver"
	"shopharness/internal/logger"
)

// Options 浏览器后端配置
type Options struct {
	DevToolsURL    string        // 连接已运行的浏览器，为空时自动启动
	Launch         LaunchOptions // 启动参数
	ProcessTimeout time.Duration // 单个拦截事件的应答超时
}

// Manager 浏览器连接管理器，每个页面使用独立的浏览器上下文
type Manager struct {
	proc     *process
	conn     *rpcc.Conn
	client   *cdp.Client
	sessions *session.Manager
	log      logger.Logger
	opts     Options

	pagesMu sync.Mutex
	pages   map[target.ID]*Page
	closed  bool
}

var _ driver.Browser = (*Manager)(nil)

// New 启动或连接浏览器
func New(ctx context.Context, opts Options, l logger.Logger) (*Manager, error) {
	if l == nil {
		l = logger.NewNop()
	}
	if opts.ProcessTimeout <= 0 {
		opts.ProcessTimeout = 3 * time.Second
	}
	m := &Manager{log: l, opts: opts, pages: make(map[target.ID]*Page)}

	devtoolsURL := opts.DevToolsURL
	if devtoolsURL == "" {
		p, err := startProcess(ctx, opts.Launch)
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
		m.proc = p
		devtoolsURL = p.devToolsURL
		l.Info("浏览器已启动", "devtools", devtoolsURL, "dataDir", p.dataDirFor())
	}

	version, err := devtool.New(devtoolsURL).Version(ctx)
	if err != nil {
		m.shutdown()
		return nil, fmt.Errorf("query devtools version: %w", err)
	}
	conn, err := rpcc.DialContext(ctx, version.WebSocketDebuggerURL)
	if err != nil {
		m.shutdown()
		return nil, fmt.Errorf("dial devtools: %w", err)
	}
	m.conn = conn
	m.client = cdp.NewClient(conn)

	sm, err := session.NewManager(m.client)
	if err != nil {
		m.shutdown()
		return nil, fmt.Errorf("create session manager: %w", err)
	}
	m.sessions = sm
	l.Info("已连接浏览器", "browser", version.Browser, "protocol", version.Protocol)
	return m, nil
}

// NewPage 创建隔离的浏览器上下文和页面
func (m *Manager) NewPage(ctx context.Context, opts driver.PageOptions) (driver.Page, error) {
	m.pagesMu.Lock()
	closed := m.closed
	m.pagesMu.Unlock()
	if closed {
		return nil, errors.New("cdp: browser closed")
	}

	bc, err := m.client.Target.CreateBrowserContext(ctx, target.NewCreateBrowserContextArgs())
	if err != nil {
		return nil, fmt.Errorf("create browser context: %w", err)
	}
	dispose := func(ctx context.Context) error {
		return m.client.Target.DisposeBrowserContext(ctx, target.NewDisposeBrowserContextArgs(bc.BrowserContextID))
	}

	created, err := m.client.Target.CreateTarget(ctx,
		target.NewCreateTargetArgs("about:blank").SetBrowserContextID(bc.BrowserContextID))
	if err != nil {
		_ = dispose(ctx)
		return nil, fmt.Errorf("create target: %w", err)
	}

	conn, err := m.sessions.Dial(ctx, created.TargetID)
	if err != nil {
		_ = m.closeTarget(ctx, created.TargetID)
		_ = dispose(ctx)
		return nil, fmt.Errorf("attach target: %w", err)
	}

	p := newPage(m, created.TargetID, conn, dispose)
	if err := p.setup(ctx, opts); err != nil {
		_ = p.Close()
		return nil, err
	}

	m.pagesMu.Lock()
	m.pages[created.TargetID] = p
	m.pagesMu.Unlock()
	m.log.Info("创建页面", "target", string(created.TargetID))
	return p, nil
}

// forget 页面关闭后从表中移除
func (m *Manager) forget(id target.ID) {
	m.pagesMu.Lock()
	delete(m.pages, id)
	m.pagesMu.Unlock()
}

func (m *Manager) closeTarget(ctx context.Context, id target.ID) error {
	_, err := m.client.Target.CloseTarget(ctx, target.NewCloseTargetArgs(id))
	return err
}

// Close 关闭所有页面并释放浏览器
func (m *Manager) Close() error {
	m.pagesMu.Lock()
	if m.closed {
		m.pagesMu.Unlock()
		return nil
	}
	m.closed = true
	pages := make([]*Page, 0, len(m.pages))
	for _, p := range m.pages {
		pages = append(pages, p)
	}
	m.pagesMu.Unlock()

	var errs []error
	for _, p := range pages {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := m.shutdown(); err != nil {
		errs = append(errs, err)
	}
	m.log.Info("浏览器已关闭")
	return errors.Join(errs...)
}

func (m *Manager) shutdown() error {
	var errs []error
	if m.sessions != nil {
		if err := m.sessions.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if m.conn != nil {
		if err := m.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if m.proc != nil {
		if err := m.proc.stop(5 * time.Second); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
