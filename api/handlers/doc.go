// Copyright (c) SkillFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 SkillFlow HTTP API 的请求处理器实现。

# 概述

handlers 包实现了 SkillFlow 所有 HTTP 端点的请求处理逻辑，
包括能力调度、执行历史查询、健康检查以及统一的响应/错误处理。
所有 Handler 均遵循标准 net/http 接口，通过 Swagger 注解生成 API 文档。

# 核心类型

  - InvokeHandler     — 能力调度处理器（POST /api/v1/invoke）
  - ExecutionsHandler — 执行历史列表与单条查询
  - HealthHandler     — 服务健康检查（/health, /ready, /version）
  - Response          — 统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo         — 结构化错误信息，含 code、message、retryable 标记
  - ResponseWriter    — 包装 http.ResponseWriter 以捕获状态码
  - HealthCheck       — 可插拔健康检查接口（数据库、Redis、注册表）

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteJSON 辅助函数
  - 请求验证：DecodeJSONBody（1 MB 限制 + 严格模式）、ValidateContentType
  - ErrorCode → HTTP 状态码自动映射（4xx/5xx）
  - 执行历史：按跟踪 ID 查询完整结果，列表支持 limit 与状态过滤
  - 可扩展健康检查：RegisterCheck 注册自定义 HealthCheck 实现
*/
package handlers
