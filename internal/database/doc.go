// Copyright (c) SkillFlow Authors.
// Licensed under the MIT License.

/*
Package database 管理执行归档库的连接与连接池。

# 概述

Open 按配置选择方言（postgres / 纯 Go sqlite）建立 GORM 连接；
PoolManager 封装底层 sql.DB 的连接池参数，后台定时探活并把连接数
上报给指标采集器，异常时通过 zap 日志输出诊断信息。

# 主要能力

  - 连接池调优：MaxOpenConns/MaxIdleConns/ConnMaxLifetime 来自
    DatabaseConfig，数据库段变更需重启生效。
  - 健康检查：定时 PingContext 探活；成功后经 StatsReporter 发布
    活跃/空闲连接数（对接 metrics.Collector.RecordDBConnections）。
  - 事务管理：WithTransaction 单次执行，WithTransactionRetry 对死锁、
    序列化失败等瞬态错误做指数退避重试。
  - 统计采集：GetStats 返回结构化的连接池运行指标。
*/
package database
