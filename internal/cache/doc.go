// Copyright (c) SkillFlow Authors.
// Licensed under the MIT License.

/*
Package cache 在共享的 Redis 客户端之上提供执行结果缓存。

# 概述

本包不自建连接：Manager 包装调用方持有的 go-redis 客户端（通常与
trace guard 复用同一连接池），提供带默认 TTL 的键值读写与 JSON
序列化接口。history.CachedStore 用它做按 trace id 的读穿缓存。

# 核心类型

  - Manager：缓存管理器，提供 Get/Set/Delete/Exists/Expire 基础操作
    与 GetJSON/SetJSON 序列化方法；Close 只停止健康检查循环，
    底层客户端留给其持有者关闭。
  - Config：DefaultTTL 兜底过期时间与 HealthCheckInterval 探活间隔
    （0 关闭后台探活）。

# 主要能力

  - 键值读写：字符串与 JSON 两种模式的缓存存取，ttl <= 0 时落到
    DefaultTTL。
  - 健康检查：后台定时 Ping 检测，异常时通过 zap 日志告警。
  - 错误语义：提供 ErrCacheMiss 哨兵错误与 IsCacheMiss 判断函数，
    redis.Nil 不会泄漏给调用方。
*/
package cache
