// Copyright (c) SkillFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 SkillFlow 服务端程序入口。

# 概述

cmd/skillflow 是 SkillFlow 调度服务的可执行入口，提供 HTTP API 服务、
单次命令行调度、数据库迁移、健康检查和版本查询等子命令。程序支持 YAML
配置文件加载、结构化日志（zap）、Prometheus 指标采集、OpenTelemetry
追踪以及配置与内容包的热重载。

# 核心类型

  - Server           — 运行时：调度器门面、HTTP 服务与后台组件
  - Middleware        — HTTP 中间件函数签名 func(http.Handler) http.Handler
  - responseWriter    — 包装 http.ResponseWriter 以捕获状态码

# 主要能力

  - 子命令：serve（启动服务）、invoke（单次调度）、migrate（数据库迁移）、
    version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、
    OTelTracing、MetricsMiddleware、RateLimiter（基于 IP）、
    JWTAuth（Bearer / HS256）
  - 内容包热重载：SIGHUP 或文件监听触发注册表快照重建
  - 配置热重载：ReloadManager 监听配置文件变更并回调
  - Metrics：业务端口暴露 /metrics（Prometheus），置于认证白名单
  - 优雅关闭：信号监听 → 停止监听器 → 排空 HTTP → 关闭调度器 → 刷出追踪
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
