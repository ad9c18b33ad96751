// Copyright (c) SkillFlow Authors.
// Licensed under the MIT License.

/*
Package telemetry 封装 OpenTelemetry SDK 初始化与调度链路追踪。

# 概述

Init 按配置装配 OTLP gRPC 导出器、TracerProvider 与 MeterProvider 并注册
为全局 provider；遥测禁用时返回 noop Providers，不连接任何外部服务。
SpanRecorder 实现 dispatch.Recorder：事件流在步骤结束时才携带耗时，
因此 span 以回溯方式构建——按上报延迟倒推起点后立即关闭，每次步骤
尝试一个 span，升级跳与计划完成各一个 span，trace_id 以属性关联。
*/
package telemetry
