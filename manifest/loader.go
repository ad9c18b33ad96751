package manifest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/skillflow/registry"
	"github.com/BaSui01/skillflow/types"
)

const (
	agentFileName = "AGENT.md"
	skillFileName = "SKILL.md"
)

// Loader parses content-pack directories into typed descriptors.
type Loader struct {
	logger      *zap.Logger
	concurrency int
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets a custom logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithConcurrency bounds how many agent directories parse in parallel.
func WithConcurrency(n int) Option {
	return func(l *Loader) {
		if n > 0 {
			l.concurrency = n
		}
	}
}

// NewLoader creates a content-pack loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		logger:      zap.NewNop(),
		concurrency: 8,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With(zap.String("component", "manifest_loader"))
	return l
}

// Pack holds the descriptors parsed from one content-pack directory, in
// directory order.
type Pack struct {
	Dir    string
	Agents []*types.AgentDescriptor
	Skills []*types.SkillDescriptor
}

// Apply feeds the pack's descriptors into a registry builder, agents first
// because the builder requires owners to exist before their skills.
func (p *Pack) Apply(b *registry.Builder) error {
	for _, a := range p.Agents {
		if err := b.AddAgent(a); err != nil {
			return err
		}
	}
	for _, s := range p.Skills {
		if err := b.AddSkill(s); err != nil {
			return err
		}
	}
	return nil
}

// agentPack is the parse result of one agent directory.
type agentPack struct {
	agent  *types.AgentDescriptor
	skills []*types.SkillDescriptor
}

// Load walks a content-pack directory: every top-level subdirectory holding
// an AGENT.md is an agent; its subdirectories holding a SKILL.md are that
// agent's skills. Agent directories parse concurrently; the first error
// aborts the load.
func (l *Loader) Load(ctx context.Context, dir string) (*Pack, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read pack directory: %w", err)
	}

	var agentDirs []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") || strings.HasPrefix(e.Name(), "_") {
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, e.Name(), agentFileName)); err != nil {
			l.logger.Debug("skipping directory without agent manifest",
				zap.String("dir", e.Name()))
			continue
		}
		agentDirs = append(agentDirs, e.Name())
	}
	if len(agentDirs) == 0 {
		return nil, fmt.Errorf("pack directory %s contains no agent manifests", dir)
	}

	// Each goroutine owns its index slot, so no lock is needed.
	loaded := make([]*agentPack, len(agentDirs))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)
	for i, name := range agentDirs {
		i, name := i, name
		g.Go(func() error {
			ap, err := l.loadAgentDir(filepath.Join(dir, name), name)
			if err != nil {
				return err
			}
			loaded[i] = ap
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	pack := &Pack{Dir: dir}
	for _, ap := range loaded {
		pack.Agents = append(pack.Agents, ap.agent)
		pack.Skills = append(pack.Skills, ap.skills...)
	}
	l.logger.Info("content pack loaded",
		zap.String("dir", dir),
		zap.Int("agents", len(pack.Agents)),
		zap.Int("skills", len(pack.Skills)),
	)
	return pack, nil
}

// LoadSnapshot loads a pack directory and builds a frozen registry snapshot
// from it.
func (l *Loader) LoadSnapshot(ctx context.Context, dir string) (*registry.Snapshot, error) {
	pack, err := l.Load(ctx, dir)
	if err != nil {
		return nil, err
	}
	b := registry.NewBuilder().WithLogger(l.logger)
	if err := pack.Apply(b); err != nil {
		return nil, err
	}
	return b.Build()
}

func (l *Loader) loadAgentDir(dir, dirName string) (*agentPack, error) {
	agentPath := filepath.Join(dir, agentFileName)
	data, err := os.ReadFile(agentPath)
	if err != nil {
		return nil, fmt.Errorf("read agent manifest: %w", err)
	}
	agent, err := ParseAgent(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", agentPath, err)
	}
	if agent.ID == "" {
		agent.ID = dirName
	} else if agent.ID != dirName {
		return nil, fmt.Errorf("%s: agent name %q must match directory name %q",
			agentPath, agent.ID, dirName)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read agent directory: %w", err)
	}

	ap := &agentPack{agent: agent}
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") || strings.HasPrefix(e.Name(), "_") {
			continue
		}
		skillPath := filepath.Join(dir, e.Name(), skillFileName)
		data, err := os.ReadFile(skillPath)
		if err != nil {
			if os.IsNotExist(err) {
				l.logger.Debug("skipping directory without skill manifest",
					zap.String("agent_id", agent.ID),
					zap.String("dir", e.Name()))
				continue
			}
			return nil, fmt.Errorf("read skill manifest: %w", err)
		}
		skill, err := ParseSkill(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", skillPath, err)
		}
		if skill.Name == "" {
			skill.Name = e.Name()
		} else if skill.Name != e.Name() {
			return nil, fmt.Errorf("%s: skill name %q must match directory name %q",
				skillPath, skill.Name, e.Name())
		}
		skill.AgentID = agent.ID
		ap.skills = append(ap.skills, skill)
	}
	return ap, nil
}
