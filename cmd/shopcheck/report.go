package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"shopharness/pkg/api"
)

var (
	passColor  = color.New(color.FgGreen)
	failColor  = color.New(color.FgRed)
	grayColor  = color.New(color.Faint)
	valueColor = color.New(color.FgCyan)
)

// report 打印场景和审计结果，存在失败时返回退出码 1
func report(w io.Writer, sums ...*api.RunSummary) error {
	passed, failed := 0, 0
	for _, sum := range sums {
		grayColor.Fprintf(w, "run %s\n", sum.RunID)
		for _, res := range sum.Results {
			if res.Passed {
				passed++
				fmt.Fprintf(w, "  %s %s %s\n", passColor.Sprint("✓"), res.Name, grayColor.Sprint(res.Duration.Round(time.Millisecond)))
				continue
			}
			failed++
			fmt.Fprintf(w, "  %s %s %s\n", failColor.Sprint("✗"), res.Name, grayColor.Sprintf("step %d", res.FailedIndex))
			fmt.Fprintf(w, "      %s\n", failColor.Sprint(res.Err))
		}
		for _, rep := range sum.Audits {
			if rep.Passed() {
				passed++
				fmt.Fprintf(w, "  %s audit %s\n", passColor.Sprint("✓"), rep.URL)
				continue
			}
			failed++
			fmt.Fprintf(w, "  %s audit %s %s\n", failColor.Sprint("✗"), rep.URL, grayColor.Sprintf("%d findings", rep.Count()))
			for _, f := range rep.Findings {
				fmt.Fprintf(w, "      [%s] %s\n", valueColor.Sprint(f.Check), f.Message)
			}
			for _, vp := range rep.Viewports {
				for _, f := range vp.Findings {
					fmt.Fprintf(w, "      %s [%s] %s %s\n", vp.Viewport, valueColor.Sprint(f.Check), f.Selector, f.Message)
				}
			}
		}
	}

	summary := fmt.Sprintf("%d passed, %d failed", passed, failed)
	if failed > 0 {
		failColor.Fprintln(w, summary)
		return cli.Exit("", 1)
	}
	passColor.Fprintln(w, summary)
	return nil
}

// printHistory 打印执行历史
func printHistory(w io.Writer, runs []api.RunRecord, events []api.EventRecord, withEvents bool) {
	for _, r := range runs {
		mark := passColor.Sprint("pass")
		if !r.Passed {
			mark = failColor.Sprint("fail")
		}
		fmt.Fprintf(w, "%-8s %-4s %-32s %6dms %s\n", r.Kind, mark, r.Name, r.DurationMs, r.Error)
	}
	if !withEvents {
		grayColor.Fprintf(w, "%d intercept events\n", len(events))
		return
	}
	for _, e := range events {
		rule := "-"
		if e.RuleID != nil {
			rule = *e.RuleID
		}
		fmt.Fprintf(w, "%s %-9s %-6s %3d %-24s %s\n",
			time.UnixMilli(e.Timestamp).Format("15:04:05.000"), e.Type, e.Method, e.StatusCode, rule, e.URL)
	}
}
