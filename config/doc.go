// Copyright (c) SkillFlow Authors.
// Licensed under the MIT License.

/*
Package config 提供 SkillFlow 的配置装载与热重载。

# 概述

配置优先级为 默认值 → YAML 文件 → 环境变量。环境变量键由节路径下划线
拼接而成，前缀 SKILLFLOW，如 SKILLFLOW_ENGINE_MAX_WORKERS、
SKILLFLOW_REGISTRY_PACK_DIR。配置文件缺失不是错误，默认值与环境变量
照常生效。

# 主要能力

  - Loader      — 构建器式装载（WithConfigPath / WithEnvPrefix / WithValidator）
  - Config      — server / engine / registry / history / database / redis /
    log / metrics / telemetry 九节，逐节校验后汇总报错
  - ReloadManager — 监听配置文件变更，校验通过后原子换入新配置；
    回调失败自动回滚，变更日志对敏感字段打码
  - FileWatcher — 轮询 + 防抖的文件变更监听（也用于内容包热重载）
*/
package config
