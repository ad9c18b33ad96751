// Copyright (c) SkillFlow Authors.
// Licensed under the MIT License.

/*
Package metrics 提供基于 Prometheus 的进程级指标采集。

# 概述

Collector 通过 promauto 在默认 Registry 下按 namespace 注册全部指标，
并实现 dispatch.Recorder 接口：把它挂到 Engine 的事件流上，调度指标即
自动产出，无需在业务代码里手动埋点。HTTP、注册表、归档与数据库指标
则由各自组件显式上报。

# 主要能力

  - 调度指标：步骤完成数（按 agent_id/skill/outcome）、步骤耗时、
    重试计数、在途步骤 Gauge、计划完成数与端到端耗时、升级跳计数。
  - HTTP 指标：请求总数、耗时、响应体大小，状态码归类为
    2xx/3xx/4xx/5xx。
  - 注册表指标：当前快照的 agent/skill 数量、内容包重载结果计数。
  - 归档指标：执行历史写入结果计数。
  - 数据库指标：连接池的活跃/空闲连接数。

在途步骤 Gauge 由 trace 维度的标记集合维护，计划完成时统一清扫，
保证丢失配对事件时读数不会漂移为负。
*/
package metrics
