package openai

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/listinglens-backend/internal/capabilities"
)

//go:embed prompts.yaml
var promptFS embed.FS

type promptFile struct {
	Version int                     `yaml:"version"`
	Prompts map[string]promptSource `yaml:"prompts"`
}

type promptSource struct {
	Heading string `yaml:"heading"`
	System  string `yaml:"system"`
	User    string `yaml:"user"`
}

type prompt struct {
	heading string
	system  string
	user    *template.Template
}

// Catalog holds the parsed prompt templates keyed by kind.
type Catalog struct {
	prompts map[capabilities.PromptKind]prompt
}

// LoadCatalog parses the embedded prompt file. Every kind the pipeline uses must be present.
func LoadCatalog() (*Catalog, error) {
	raw, err := promptFS.ReadFile("prompts.yaml")
	if err != nil {
		return nil, fmt.Errorf("read prompts: %w", err)
	}
	return parseCatalog(raw)
}

func parseCatalog(raw []byte) (*Catalog, error) {
	var f promptFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse prompts: %w", err)
	}
	c := &Catalog{prompts: map[capabilities.PromptKind]prompt{}}
	for name, src := range f.Prompts {
		tmpl, err := template.New(name).Option("missingkey=error").Parse(src.User)
		if err != nil {
			return nil, fmt.Errorf("prompt %q: %w", name, err)
		}
		c.prompts[capabilities.PromptKind(name)] = prompt{
			heading: strings.TrimSpace(src.Heading),
			system:  strings.TrimSpace(src.System),
			user:    tmpl,
		}
	}
	for _, kind := range []capabilities.PromptKind{
		capabilities.PromptProductAnalysis,
		capabilities.PromptCompetitorAnalysis,
		capabilities.PromptMarketPositioning,
		capabilities.PromptOptimizationStrategy,
		capabilities.PromptKeywords,
	} {
		if _, ok := c.prompts[kind]; !ok {
			return nil, fmt.Errorf("prompt %q missing", kind)
		}
	}
	return c, nil
}

// Render returns the system and user messages for kind.
func (c *Catalog) Render(kind capabilities.PromptKind, inputs []string) (system, user, heading string, err error) {
	p, ok := c.prompts[kind]
	if !ok {
		return "", "", "", fmt.Errorf("unknown prompt kind %q", kind)
	}
	if len(inputs) == 0 {
		return "", "", "", fmt.Errorf("prompt %q needs at least one input", kind)
	}
	var buf bytes.Buffer
	if err := p.user.Execute(&buf, struct{ Inputs []string }{Inputs: inputs}); err != nil {
		return "", "", "", fmt.Errorf("render %q: %w", kind, err)
	}
	return p.system, strings.TrimSpace(buf.String()), p.heading, nil
}
