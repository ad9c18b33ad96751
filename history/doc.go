// Copyright (c) SkillFlow Authors.
// Licensed under the MIT License.

/*
Package history 归档执行结果并支持按 trace 查询。

# 概述

每次调度完成后，Engine 产出的 ExecutionResult（含升级链与逐步骤明细）可
交由本包归档。Store 接口有两个实现：GormStore 将结果写入关系数据库
（executions / execution_steps 两张表，升级跳以 parent_id 自关联成链），
MemoryStore 用固定容量环形缓冲保存最近的执行，适合未配置数据库的场景
与测试。

# 主要能力

  - Save      — 单事务归档整条升级链
  - ByTraceID — 按 trace_id 取最近一次归档（重复归档取最新）
  - Recent    — 最近 N 条根执行，时间倒序，升级链完整装配
  - AutoMigrate — 测试与嵌入式 sqlite 场景的建表入口；
    生产环境使用 internal/migration 的版本化 SQL
*/
package history
