// Copyright (c) SkillFlow Authors.
// Licensed under the MIT License.

/*
Package dispatch 提供请求校验、计划解析与执行引擎。

# 概述

dispatch 包实现了 SkillFlow 的核心调度流程：请求先经 Validate 按注册表
快照做参数校验，再由 BuildPlan 将技能的绑定闭包展开为确定性的线性执行
计划，最后由 Engine 在有界工作池上并发执行计划步骤，失败步骤按指数退避
重试，必需步骤耗尽重试预算后沿 fallback_agent / escalation_path 升级链
转交其他智能体处理。

# 核心接口与类型

  - Validate / CoerceParams — 请求与参数校验（纯函数，无副作用）
  - BuildPlan               — 绑定闭包 → ExecutionPlan（依赖先行、根技能最后）
  - Engine / EngineConfig   — 执行引擎（工作池、单步超时、重试策略）
  - Handler / HandlerFunc   — 技能执行边界，每次尝试恰好调用一次
  - HandlerMux              — (agent, skill) → Handler 路由
  - RetryPolicy             — 指数退避 base*2^attempt，封顶 MaxDelay，无抖动
  - TraceGuard              — trace_id 去重（内存 / Redis SETNX 两种后端）
  - Recorder / Event        — 执行事件流（Zap / 多路 / 限流包装器）

# 主要能力

  - 步骤状态机：PENDING → RUNNING → {SUCCESS | RETRYING → RUNNING | FAILED}
  - 就绪调度：依赖全部终态且必需依赖成功后步骤方可启动
  - 退避期间步骤挂在计时器上，不占用工作池工作者
  - 升级链：fallback_agent → escalation_path（agent 再跳一跳；
    human_review / drop 为终态汇点），子计划结果嵌套归档
  - SECONDARY 绑定步骤失败仅记录，不升级、不影响整体结果
*/
package dispatch
