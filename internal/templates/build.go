package templates

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

type matcher struct {
	Type  string   `yaml:"type"`
	Words []string `yaml:"words"`
}

type httpRequest struct {
	Method   string    `yaml:"method"`
	Path     []string  `yaml:"path"`
	Matchers []matcher `yaml:"matchers"`
}

type basicTemplate struct {
	ID   string `yaml:"id"`
	Info struct {
		Name     string `yaml:"name"`
		Author   string `yaml:"author"`
		Severity string `yaml:"severity"`
		Tags     string `yaml:"tags"`
	} `yaml:"info"`
	HTTP []httpRequest `yaml:"http"`
}

// Build generates a minimal http word-matcher template. An empty word
// list falls back to matching "success".
func Build(id, name, severity, method, path string, words []string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("template id is required")
	}
	if len(words) == 0 {
		words = []string{"success"}
	}
	tags := strings.Join(words, ",")
	if tags == "" {
		tags = "demo"
	}

	var doc basicTemplate
	doc.ID = id
	doc.Info.Name = name
	doc.Info.Author = "waverly"
	doc.Info.Severity = severity
	doc.Info.Tags = tags
	doc.HTTP = []httpRequest{{
		Method: strings.ToUpper(method),
		Path:   []string{path},
		Matchers: []matcher{{
			Type:  "word",
			Words: words,
		}},
	}}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encoding template: %w", err)
	}
	return string(out), nil
}
