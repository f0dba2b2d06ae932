package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"shopharness/internal/config"
	"shopharness/internal/logger"
	"shopharness/pkg/api"
	"shopharness/pkg/model"
)

var version = "0.1.0"

// loadConfig 加载配置文件并应用命令行覆盖
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if c.IsSet("driver") {
		cfg.Browser.Driver = c.String("driver")
	}
	if c.IsSet("base-url") {
		cfg.BaseURL = c.String("base-url")
	}
	if c.IsSet("db") {
		cfg.Sqlite.Dsn = c.String("db")
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if c.IsSet("parallel") {
		cfg.Parallel = c.Int("parallel")
	}
	if c.IsSet("headful") {
		cfg.Browser.Headless = !c.Bool("headful")
	}
	return cfg, cfg.Validate()
}

// withService 创建服务并在命令结束后释放
func withService(c *cli.Context, fn func(ctx context.Context, svc api.Service) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	l := logger.New(logger.Options{Level: cfg.Log.Level, Writers: cfg.Log.Writer, File: cfg.Log.File})

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := api.NewService(ctx, cfg, l)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			l.Err(err, "释放服务失败")
		}
	}()
	return fn(ctx, svc)
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run scenarios against the mocked storefront",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "suite", Aliases: []string{"s"}, Usage: "YAML suite file"},
			&cli.BoolFlag{Name: "builtin", Usage: "run the built-in storefront catalog (default without --suite)"},
			&cli.StringSliceFlag{Name: "tag", Aliases: []string{"t"}, Usage: "only run scenarios with this tag or name"},
			&cli.IntFlag{Name: "parallel", Aliases: []string{"p"}, Usage: "scenarios run concurrently"},
		},
		Action: func(c *cli.Context) error {
			return withService(c, func(ctx context.Context, svc api.Service) error {
				tags := c.StringSlice("tag")
				var sums []*api.RunSummary
				if path := c.String("suite"); path != "" {
					sum, err := svc.RunSuite(ctx, path, tags)
					if sum != nil {
						sums = append(sums, sum)
					}
					if err != nil {
						return err
					}
				}
				if c.Bool("builtin") || c.String("suite") == "" {
					sum, err := svc.RunBuiltin(ctx, tags)
					if err != nil {
						return err
					}
					sums = append(sums, sum)
				}
				return report(os.Stdout, sums...)
			})
		},
	}
}

func auditCommand() *cli.Command {
	return &cli.Command{
		Name:  "audit",
		Usage: "Check landmarks, alt text, control names and the accessibility tree per viewport",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "page", Usage: "page path or URL, repeatable"},
			&cli.StringFlag{Name: "fixture", Usage: "rule set to install before auditing"},
			&cli.StringSliceFlag{Name: "viewport", Usage: "WIDTHxHEIGHT, repeatable"},
		},
		Action: func(c *cli.Context) error {
			viewports, err := parseViewports(c.StringSlice("viewport"))
			if err != nil {
				return err
			}
			return withService(c, func(ctx context.Context, svc api.Service) error {
				sum, err := svc.Audit(ctx, api.AuditRequest{
					Fixture:   c.String("fixture"),
					Pages:     c.StringSlice("page"),
					Viewports: viewports,
				})
				if sum != nil {
					if rerr := report(os.Stdout, sum); err == nil {
						err = rerr
					}
				}
				return err
			})
		},
	}
}

func fixturesCommand() *cli.Command {
	return &cli.Command{
		Name:  "fixtures",
		Usage: "Manage stored rule sets",
		Subcommands: []*cli.Command{
			{
				Name:      "import",
				Usage:     "Import a JSON or YAML rule set",
				ArgsUsage: "FILE",
				Flags:     []cli.Flag{&cli.StringFlag{Name: "name", Usage: "override the rule set name"}},
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.Exit("import needs exactly one file", 2)
					}
					return withService(c, func(ctx context.Context, svc api.Service) error {
						cfg, err := svc.ImportFixture(ctx, c.Args().First(), c.String("name"))
						if err != nil {
							return err
						}
						fmt.Printf("imported %s (%d rules)\n", cfg.Name, len(cfg.Rules))
						return nil
					})
				},
			},
			{
				Name:  "seed",
				Usage: "Store the built-in storefront rule sets",
				Action: func(c *cli.Context) error {
					return withService(c, func(ctx context.Context, svc api.Service) error {
						names, err := svc.SeedFixtures(ctx)
						fmt.Println(strings.Join(names, "\n"))
						return err
					})
				},
			},
			{
				Name:  "list",
				Usage: "List stored rule sets",
				Action: func(c *cli.Context) error {
					return withService(c, func(ctx context.Context, svc api.Service) error {
						list, err := svc.Fixtures(ctx)
						if err != nil {
							return err
						}
						for _, f := range list {
							fmt.Printf("%-24s v%-6s %3d rules  %s\n", f.Name, f.Version, f.RuleCount, f.UpdatedAt.Format("2006-01-02 15:04"))
						}
						return nil
					})
				},
			},
			{
				Name:      "show",
				Usage:     "Print a stored rule set as JSON",
				ArgsUsage: "NAME",
				Action: func(c *cli.Context) error {
					return withService(c, func(ctx context.Context, svc api.Service) error {
						cfg, err := svc.Fixture(ctx, c.Args().First())
						if err != nil {
							return err
						}
						enc := json.NewEncoder(os.Stdout)
						enc.SetIndent("", "  ")
						return enc.Encode(cfg)
					})
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete a stored rule set",
				ArgsUsage: "NAME",
				Action: func(c *cli.Context) error {
					return withService(c, func(ctx context.Context, svc api.Service) error {
						return svc.DeleteFixture(ctx, c.Args().First())
					})
				},
			},
		},
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "Show stored results and intercept events of a run, or the most recent results",
		ArgsUsage: "[RUN_ID]",
		Flags:     []cli.Flag{&cli.BoolFlag{Name: "events", Usage: "also list intercept events"}},
		Action: func(c *cli.Context) error {
			return withService(c, func(ctx context.Context, svc api.Service) error {
				runs, events, err := svc.History(ctx, c.Args().First())
				if err != nil {
					return err
				}
				printHistory(os.Stdout, runs, events, c.Bool("events"))
				return nil
			})
		},
	}
}

// parseViewports 解析 WIDTHxHEIGHT 形式的视口
func parseViewports(values []string) ([]model.Viewport, error) {
	out := make([]model.Viewport, 0, len(values))
	for _, v := range values {
		w, h, ok := strings.Cut(strings.ToLower(v), "x")
		if !ok {
			return nil, fmt.Errorf("viewport %q: want WIDTHxHEIGHT", v)
		}
		width, err := strconv.Atoi(w)
		if err != nil {
			return nil, fmt.Errorf("viewport %q: %w", v, err)
		}
		height, err := strconv.Atoi(h)
		if err != nil {
			return nil, fmt.Errorf("viewport %q: %w", v, err)
		}
		vp := model.Viewport{Width: width, Height: height}
		if err := vp.Validate(); err != nil {
			return nil, err
		}
		out = append(out, vp)
	}
	return out, nil
}

func main() {
	app := &cli.App{
		Name:    "shopcheck",
		Usage:   "Interception and assertion harness for a mocked storefront",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML config file", EnvVars: []string{"SHOPCHECK_CONFIG"}},
			&cli.StringFlag{Name: "driver", Usage: "browser backend: static, cdp or playwright"},
			&cli.StringFlag{Name: "base-url", Usage: "storefront base URL"},
			&cli.StringFlag{Name: "db", Usage: "sqlite database path"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
			&cli.BoolFlag{Name: "headful", Usage: "show the browser window"},
		},
		Commands: []*cli.Command{
			runCommand(),
			auditCommand(),
			fixturesCommand(),
			historyCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
