// Copyright (c) SkillFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 SkillFlow 调度器的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 registry、dispatch、manifest、
history、api 等上层模块提供统一的类型契约。所有跨包共享的描述符、枚举和
错误码均定义于此，以避免循环依赖。

# 核心接口与类型

  - AgentDescriptor   — Agent 注册记录（ID、Domain、FallbackAgent、ErrorPolicy）
  - SkillDescriptor   — Skill 注册记录（BondType、Priority、InputSchema、Bonds）
  - EscalationSink    — 升级目标的封闭变体（Agent(id) | HumanReview | Drop）
  - Request           — 入口请求（agent、可选 skill、参数、trace_id）
  - ExecutionPlan     — 解析器产出的确定性有序执行计划
  - StepResult        — 单步执行归档（状态机、尝试次数、延迟）
  - ExecutionResult   — 整体结果，含嵌套的升级子结果
  - Error / ErrorCode — 结构化错误体系，含 HTTP 状态码与 Retryable 标记
  - InputSchema       — Skill 参数模式定义与构建器（NewInputSchema 等）

# 主要能力

  - Context 传播：WithTraceID / WithRequestID / WithAgentID
  - 错误工具链：GetErrorCode / IsErrorCode / IsRetryable / ExitCode
  - 描述符解析：ParseBondType / ParseEscalationSink / ParseParamType
  - 命令行出口码契约：0 成功，1 invalid_skill，2 skill_not_found，3 agent_unavailable
*/
package types
