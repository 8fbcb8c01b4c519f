package policy

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"execgate/internal/domain"

	"gopkg.in/yaml.v3"
)

// rulePack is the YAML shape of one file in rules.d/:
//
//	name: node
//	rules:
//	  - pattern: [npm, [test, run]]
//	    action: allow
//	    description: run project scripts
type rulePack struct {
	Name  string         `yaml:"name"`
	Rules []packRuleSpec `yaml:"rules"`
}

type packRuleSpec struct {
	ID          string `yaml:"id"`
	Pattern     []any  `yaml:"pattern"`
	Action      string `yaml:"action"`
	Description string `yaml:"description"`
}

// LoadRulePacks reads every .yaml/.yml file in dir and returns their rules
// as read-only user-layer rules. A missing directory yields no rules; a bad
// file is logged and skipped.
func LoadRulePacks(dir string, logger *slog.Logger) ([]domain.Rule, error) {
	if dir == "" {
		return nil, nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		logger.Debug("rule pack directory does not exist, skipping", "dir", dir)
		return nil, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read rule pack dir: %w", err)
	}

	var rules []domain.Rule
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		packRules, err := loadRulePack(path)
		if err != nil {
			logger.Warn("failed to load rule pack", "file", path, "error", err)
			continue
		}
		logger.Debug("rule pack loaded", "file", path, "rules", len(packRules))
		rules = append(rules, packRules...)
	}
	return rules, nil
}

func loadRulePack(path string) ([]domain.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var pack rulePack
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	name := pack.Name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	info, _ := os.Stat(path)
	created := time.Now().UTC()
	if info != nil {
		created = info.ModTime().UTC()
	}

	rules := make([]domain.Rule, 0, len(pack.Rules))
	for i, spec := range pack.Rules {
		pattern, err := parsePackPattern(spec.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i+1, err)
		}
		action, err := domain.ParseRuleAction(spec.Action)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i+1, err)
		}
		id := spec.ID
		if id == "" {
			id = fmt.Sprintf("pack-%s-%d", name, i+1)
		}
		rules = append(rules, domain.Rule{
			ID:          id,
			Pattern:     pattern,
			Action:      action,
			Source:      domain.SourceUser,
			Description: spec.Description,
			CreatedAt:   created,
		})
	}
	return rules, nil
}

func parsePackPattern(raw []any) ([]domain.PatternPosition, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("pattern must not be empty")
	}
	out := make([]domain.PatternPosition, 0, len(raw))
	for _, item := range raw {
		switch v := item.(type) {
		case string:
			out = append(out, domain.Literal(v))
		case []any:
			if len(v) == 0 {
				return nil, fmt.Errorf("pattern set must not be empty")
			}
			vals := make([]string, 0, len(v))
			for _, s := range v {
				str, ok := s.(string)
				if !ok {
					return nil, fmt.Errorf("pattern set members must be strings, got %T", s)
				}
				vals = append(vals, str)
			}
			out = append(out, domain.OneOf(vals...))
		default:
			// Bare numbers and booleans in YAML are still literal tokens.
			out = append(out, domain.Literal(fmt.Sprint(v)))
		}
	}
	return out, nil
}
