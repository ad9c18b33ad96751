package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/skillflow"
	"github.com/BaSui01/skillflow/config"
	"github.com/BaSui01/skillflow/types"
)

// =============================================================================
// ⚡ invoke 命令 — 单次调度，不启动服务
// =============================================================================

// runInvoke 从内容包构建调度器，执行一次请求并打印结果。
// 进程退出码：0 成功（含升级成功），1 终态失败，准入错误按 types.ExitCode。
func runInvoke(args []string) {
	fs := flag.NewFlagSet("invoke", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	packDir := fs.String("pack", "", "Content pack directory (overrides config)")
	traceID := fs.String("trace-id", "", "Trace ID for dedup (generated when empty)")
	timeout := fs.Duration("timeout", 0, "Overall execution timeout (0 = no limit)")
	jsonOut := fs.Bool("json", false, "Print the full execution result as JSON")
	verbose := fs.Bool("verbose", false, "Log dispatch events to stderr")
	fs.Parse(args)

	rest := fs.Args()
	if len(rest) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: skillflow invoke [options] <agent> [skill] [key=value ...]")
		fs.PrintDefaults()
		os.Exit(1)
	}

	agentID := rest[0]
	skillName := ""
	params := make(map[string]any)
	for _, arg := range rest[1:] {
		if key, value, ok := strings.Cut(arg, "="); ok {
			params[key] = parseParamValue(value)
			continue
		}
		if skillName == "" {
			skillName = arg
			continue
		}
		fmt.Fprintf(os.Stderr, "Unexpected argument: %s\n", arg)
		os.Exit(1)
	}

	cfg := loadInvokeConfig(*configPath, *packDir)

	logger := zap.NewNop()
	if *verbose {
		logCfg := cfg.Log
		logCfg.Format = "console"
		logCfg.OutputPaths = []string{"stderr"}
		logger = initLogger(logCfg)
		defer logger.Sync()
	}

	dispatcher, err := skillflow.New(cfg, skillflow.WithLogger(logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build dispatcher: %v\n", err)
		os.Exit(types.ExitCode(err))
	}
	defer dispatcher.Close()

	req := types.NewRequest(agentID, skillName, params)
	if *traceID != "" {
		req.TraceID = *traceID
	}

	ctx := context.Background()
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	result, err := dispatcher.Invoke(ctx, req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Dispatch failed: %v\n", err)
		os.Exit(types.ExitCode(err))
	}

	if *jsonOut {
		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode result: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(out))
	} else {
		printResult(result)
	}

	if !result.Succeeded() {
		os.Exit(1)
	}
}

// loadInvokeConfig 解析 invoke 的配置：--pack 覆盖配置文件里的内容包目录。
// 只给 --pack 时使用默认配置，不触达 Redis/数据库。
func loadInvokeConfig(configPath, packDir string) *config.Config {
	var cfg *config.Config
	if configPath != "" {
		loaded, err := config.NewLoader().WithConfigPath(configPath).Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		if err := loaded.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	} else {
		cfg = config.DefaultConfig()
	}
	if packDir != "" {
		cfg.Registry.PackDir = packDir
	}
	return cfg
}

// parseParamValue decodes a key=value argument: valid JSON literals become
// typed values (5, true, ["a"]), anything else stays a string.
func parseParamValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

// =============================================================================
// 📄 结果输出
// =============================================================================

func printResult(result *types.ExecutionResult) {
	fmt.Printf("Trace:    %s\n", result.TraceID)
	fmt.Printf("Agent:    %s\n", result.AgentID)
	fmt.Printf("Root:     %s\n", result.RootSkill)
	fmt.Printf("Status:   %s\n", result.Status)
	fmt.Printf("Duration: %s\n", result.Duration.Round(time.Millisecond))
	if result.ErrorCode != "" {
		fmt.Printf("Error:    %s: %s\n", result.ErrorCode, result.LastError)
	}
	printSteps(result, "")

	for e := result.Escalation; e != nil; e = e.Escalation {
		fmt.Printf("\nEscalated to %s (from %s): %s\n", e.AgentID, e.EscalatedFrom, e.EscalationReason)
		fmt.Printf("Status:   %s\n", e.Status)
		printSteps(e, "")
	}
}

func printSteps(result *types.ExecutionResult, indent string) {
	if len(result.Steps) == 0 {
		return
	}
	fmt.Printf("%sSteps:\n", indent)
	for i, step := range result.Steps {
		line := fmt.Sprintf("%s  %d. %-24s %-8s attempts=%d", indent, i+1, step.SkillName, step.Status, step.Attempts)
		if latency := stepLatency(step); latency > 0 {
			line += fmt.Sprintf(" latency=%s", latency.Round(time.Millisecond))
		}
		if step.ErrorCode != "" {
			line += fmt.Sprintf(" error=%s", step.ErrorCode)
		}
		fmt.Println(line)
	}
}

// stepLatency sums the per-attempt handler latencies of a step.
func stepLatency(step types.StepResult) time.Duration {
	var total time.Duration
	for _, l := range step.AttemptLatencies {
		total += l
	}
	return total
}
