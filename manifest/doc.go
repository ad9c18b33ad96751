// Copyright (c) SkillFlow Authors.
// Licensed under the MIT License.

/*
Package manifest 将内容包目录解析为类型化的注册描述符。

# 概述

一个内容包目录的每个一级子目录对应一个智能体，子目录内的 AGENT.md 描述
智能体本身，其下每个技能目录内的 SKILL.md 描述一项技能。两类文件均为
markdown，元数据写在 "---" 分隔的 YAML front matter 中，正文为课程内容，
加载时忽略。

	pack/
	├── react-agent/
	│   ├── AGENT.md
	│   ├── react-hooks/
	│   │   └── SKILL.md
	│   └── context-api-patterns/
	│       └── SKILL.md
	└── state-agent/
	    ├── AGENT.md
	    └── redux-fundamentals/
	        └── SKILL.md

# 主要能力

  - Loader.Load       — 并发解析（errgroup 限流），目录序确定性输出
  - Loader.LoadSnapshot — 解析 + 注册 + 冻结为 registry.Snapshot 一步完成
  - Pack.Apply        — 将描述符喂给 registry.Builder（先智能体后技能）
  - ParseAgent / ParseSkill — 单文件解析，front matter 畸形时报错并指明文件
  - 优先级标签 P<n> 归一化为序数 n；bond_type 大小写不敏感

front matter 中的 name 若与目录名不一致则报错，缺省时取目录名。
*/
package manifest
