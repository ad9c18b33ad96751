// Copyright (c) SkillFlow Authors.
// Licensed under the MIT License.

/*
Package testutil 提供 SkillFlow 测试的共享工具和辅助函数。

# 概述

testutil 包为集成测试、端到端测试与基准测试提供统一的辅助能力，
避免各测试套件重复实现相似的测试基础设施。单元测试通常依赖
各包内的本地 helper，跨包套件（tests/ 目录）优先使用此包。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 异步断言: AssertEventuallyTrue，支持超时轮询等待条件满足
  - 文件辅助: WriteFile，构造临时内容包目录

# 子包

  - testutil/mocks: Mock 实现，包括 StubHandler（固定结果的技能处理器）、
    FlakyHandler（失败 N 次后成功，驱动重试路径）、
    RecordingRecorder（捕获调度事件流），均为并发安全
  - testutil/fixtures: 测试数据工厂，提供写入磁盘的标准学习内容包
    （WriteLearningPack）与等价的代码构造快照（LearningSnapshot）

# 使用示例

	ctx := testutil.TestContext(t)
	dir := t.TempDir()
	fixtures.WriteLearningPack(t, dir)
	rec := mocks.NewRecordingRecorder()
*/
package testutil
