// Copyright (c) SkillFlow Authors.
// Licensed under the MIT License.

/*
包 migration 管理归档数据库的 Schema 迁移，支持 PostgreSQL 与
SQLite（纯 Go 驱动），基于 golang-migrate 实现。

# 概述

本包通过 embed.FS 内嵌各方言的 SQL 迁移文件，结合 golang-migrate
引擎实现版本化的 Schema 变更。executions 与 execution_steps 两张表
承载调度历史的归档记录，其结构与 history 包的 gorm 模型一一对应。

# 核心接口与类型

  - Migrator：迁移器接口，定义 Up/Down/Reset/Goto/Force/Version/
    Status/Close 操作集。
  - DefaultMigrator：Migrator 的默认实现，封装 golang-migrate 实例
    与独立的数据库连接。
  - Config：迁移配置，包含数据库类型、连接 URL 与迁移表名。
  - DatabaseType：数据库类型枚举（postgres/sqlite）。
  - CLI：命令行交互层，封装 Migrator 提供格式化输出。

# 主要能力

  - 双数据库支持：通过 DatabaseType 与内嵌 SQL 文件自动适配方言；
    SQLite 走 modernc 纯 Go 驱动，无需 CGO。
  - 工厂函数：NewMigratorFromDatabaseConfig / NewMigratorFromURL
    支持从应用配置或显式 URL 创建迁移器。
  - CLI 集成：RunUp/RunDown/RunStatus/RunVersion 等面向终端的
    格式化操作，供 migrate 子命令调用。
  - 辅助工具：ParseDatabaseType 解析类型字符串，BuildDatabaseURL
    按方言拼接连接 URL。
*/
package migration
