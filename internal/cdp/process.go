package cdp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"
)

// LaunchOptions 浏览器启动选项
type LaunchOptions struct {
	ExecPath    string   // 浏览器可执行文件路径
	UserDataDir string   // 用户数据目录，为空时使用临时目录
	Headless    bool     // 是否以无头模式启动
	Args        []string // 额外启动参数
	Env         []string // 额外环境变量
}

// process 已启动的浏览器进程句柄
type process struct {
	cmd         *exec.Cmd
	devToolsURL string
	dataDir     string
	ownsDataDir bool
}

// startProcess 启动浏览器并等待CDP服务就绪
func startProcess(ctx context.Context, opts LaunchOptions) (*process, error) {
	exe := opts.ExecPath
	if exe == "" {
		exe = defaultChromePath()
	}
	if exe == "" {
		return nil, errors.New("chrome executable not found")
	}
	port, err := pickFreePort()
	if err != nil {
		return nil, fmt.Errorf("pick devtools port: %w", err)
	}

	p := &process{dataDir: opts.UserDataDir}
	if p.dataDir == "" {
		dir, err := os.MkdirTemp("", "shopcheck-chrome-")
		if err != nil {
			return nil, err
		}
		p.dataDir = dir
		p.ownsDataDir = true
	}

	args := []string{
		fmt.Sprintf("--remote-debugging-port=%d", port),
		fmt.Sprintf("--user-data-dir=%s", p.dataDir),
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-background-networking",
		"--disable-extensions",
		"about:blank",
	}
	if opts.Headless {
		args = append(args, "--headless=new", "--disable-gpu")
	}
	args = append(args, opts.Args...)

	cmd := exec.Command(exe, args...)
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}
	if err := cmd.Start(); err != nil {
		p.cleanup()
		return nil, err
	}
	p.cmd = cmd
	p.devToolsURL = fmt.Sprintf("http://127.0.0.1:%d", port)

	readyCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := waitDevToolsReady(readyCtx, p.devToolsURL); err != nil {
		_ = p.stop(2 * time.Second)
		return nil, err
	}
	return p, nil
}

// stop 关闭浏览器进程（尽力而为）
func (p *process) stop(timeout time.Duration) error {
	if p == nil || p.cmd == nil || p.cmd.Process == nil {
		return nil
	}
	defer p.cleanup()
	done := make(chan error, 1)
	go func() { done <- p.cmd.Wait() }()
	_ = p.cmd.Process.Kill()
	select {
	case <-time.After(timeout):
		return errors.New("browser stop timeout")
	case <-done:
		return nil
	}
}

func (p *process) cleanup() {
	if p.ownsDataDir && p.dataDir != "" {
		_ = os.RemoveAll(p.dataDir)
	}
}

// defaultChromePath 返回常见的Chrome可执行路径
func defaultChromePath() string {
	var candidates []string
	switch runtime.GOOS {
	case "windows":
		candidates = []string{
			`C:\Program Files\Google\Chrome\Application\chrome.exe`,
			`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
		}
	case "darwin":
		candidates = []string{"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"}
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "chrome"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	return ""
}

// pickFreePort 选择一个本地空闲端口
func pickFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// waitDevToolsReady 轮询DevTools服务是否就绪
func waitDevToolsReady(ctx context.Context, base string) error {
	url := fmt.Sprintf("%s/json/version", base)
	cli := &http.Client{Timeout: 500 * time.Millisecond}
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		resp, err := cli.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return errors.New("devtools not ready")
		case <-ticker.C:
		}
	}
}

// dataDirFor 返回进程使用的用户数据目录，仅用于日志
func (p *process) dataDirFor() string {
	if p == nil {
		return ""
	}
	return filepath.Clean(p.dataDir)
}
