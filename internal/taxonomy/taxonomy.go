// Package taxonomy 维护课纲概念表，并提供概念标签的归一化与白名单过滤。
// 分类提示词和过滤步骤必须共用同一个 *Taxonomy 实例，避免两边的概念列表不一致。
package taxonomy

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrInvalidTaxonomy 表示概念表文件内容不合法。
var ErrInvalidTaxonomy = errors.New("invalid taxonomy")

//go:embed default_taxonomy.yaml
var defaultTaxonomyYAML []byte

// Taxonomy 是一个只读、带版本的课纲概念表。
type Taxonomy struct {
	Version         string
	Concepts        []string
	FallbackConcept string
	MathKeywords    []string
	NoisePhrases    []string
	Aliases         map[string]string
	Families        []Family

	conceptSet  map[string]struct{}
	mathKeyword *regexp.Regexp
}

// Family 是一个主题族：match 命中后，再按分支决定落到哪个标准概念。
type Family struct {
	Name     string
	Branches []Branch

	match *regexp.Regexp
}

// Branch 是主题族内的一个分支，when 为空表示预设分支。
type Branch struct {
	Label string

	when *regexp.Regexp
}

type taxonomyFile struct {
	Version         string            `yaml:"version"`
	Concepts        []string          `yaml:"concepts"`
	FallbackConcept string            `yaml:"fallback_concept"`
	MathKeywords    []string          `yaml:"math_keywords"`
	NoisePhrases    []string          `yaml:"noise_phrases"`
	Aliases         map[string]string `yaml:"aliases"`
	Families        []struct {
		Name     string `yaml:"name"`
		Match    string `yaml:"match"`
		Branches []struct {
			When  string `yaml:"when"`
			Label string `yaml:"label"`
		} `yaml:"branches"`
	} `yaml:"families"`
}

var (
	defaultOnce sync.Once
	defaultTax  *Taxonomy
)

// Default 返回内置的概念表。内置文件不合法属于编程错误，直接 panic。
func Default() *Taxonomy {
	defaultOnce.Do(func() {
		t, err := Parse(defaultTaxonomyYAML)
		if err != nil {
			panic(fmt.Errorf("内置概念表不合法: %w", err))
		}
		defaultTax = t
	})
	return defaultTax
}

// Load 从文件加载概念表；path 为空时返回内置概念表。
func Load(path string) (*Taxonomy, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read taxonomy file: %w", err)
	}
	return Parse(data)
}

// Parse 解析并校验概念表 YAML。
func Parse(data []byte) (*Taxonomy, error) {
	var f taxonomyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTaxonomy, err)
	}

	t := &Taxonomy{
		Version:         f.Version,
		FallbackConcept: strings.TrimSpace(f.FallbackConcept),
		MathKeywords:    f.MathKeywords,
		NoisePhrases:    f.NoisePhrases,
		Aliases:         make(map[string]string, len(f.Aliases)),
		conceptSet:      make(map[string]struct{}, len(f.Concepts)),
	}
	for _, c := range f.Concepts {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, dup := t.conceptSet[c]; dup {
			continue
		}
		t.conceptSet[c] = struct{}{}
		t.Concepts = append(t.Concepts, c)
	}
	for from, to := range f.Aliases {
		t.Aliases[strings.TrimSpace(from)] = strings.TrimSpace(to)
	}

	for _, ff := range f.Families {
		re, err := regexp.Compile(ff.Match)
		if err != nil || ff.Match == "" {
			return nil, fmt.Errorf("%w: family %q has invalid match %q", ErrInvalidTaxonomy, ff.Name, ff.Match)
		}
		fam := Family{Name: ff.Name, match: re}
		for _, fb := range ff.Branches {
			br := Branch{Label: strings.TrimSpace(fb.Label)}
			if fb.When != "" {
				if br.when, err = regexp.Compile(fb.When); err != nil {
					return nil, fmt.Errorf("%w: family %q branch %q: %v", ErrInvalidTaxonomy, ff.Name, fb.Label, err)
				}
			}
			fam.Branches = append(fam.Branches, br)
		}
		t.Families = append(t.Families, fam)
	}

	if len(t.MathKeywords) > 0 {
		quoted := make([]string, 0, len(t.MathKeywords))
		for _, k := range t.MathKeywords {
			if k = strings.TrimSpace(k); k != "" {
				quoted = append(quoted, regexp.QuoteMeta(k))
			}
		}
		t.mathKeyword = regexp.MustCompile(strings.Join(quoted, "|"))
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Validate 检查概念表的引用完整性：合并规则、分支与兜底概念都必须指向概念表成员。
func (t *Taxonomy) Validate() error {
	if len(t.Concepts) == 0 {
		return fmt.Errorf("%w: no concepts", ErrInvalidTaxonomy)
	}
	if t.FallbackConcept != "" && !t.Contains(t.FallbackConcept) {
		return fmt.Errorf("%w: fallback concept %q is not a concept", ErrInvalidTaxonomy, t.FallbackConcept)
	}
	for from, to := range t.Aliases {
		if !t.Contains(to) {
			return fmt.Errorf("%w: alias %q -> %q targets unknown concept", ErrInvalidTaxonomy, from, to)
		}
	}
	for _, f := range t.Families {
		if len(f.Branches) == 0 {
			return fmt.Errorf("%w: family %q has no branches", ErrInvalidTaxonomy, f.Name)
		}
		for _, b := range f.Branches {
			if !t.Contains(b.Label) {
				return fmt.Errorf("%w: family %q maps to unknown concept %q", ErrInvalidTaxonomy, f.Name, b.Label)
			}
		}
	}
	return nil
}

// Contains 判断 label 是否为标准概念。
func (t *Taxonomy) Contains(label string) bool {
	_, ok := t.conceptSet[label]
	return ok
}

// PromptConcepts 返回提示词中列举的概念，兜底概念不对模型开放。
func (t *Taxonomy) PromptConcepts() []string {
	out := make([]string, 0, len(t.Concepts))
	for _, c := range t.Concepts {
		if c != t.FallbackConcept {
			out = append(out, c)
		}
	}
	return out
}

// HasMathKeyword 判断文本中是否出现通用数学关键字。
func (t *Taxonomy) HasMathKeyword(text string) bool {
	return t.mathKeyword != nil && t.mathKeyword.MatchString(text)
}
