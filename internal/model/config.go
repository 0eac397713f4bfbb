// Package model holds waverly's configuration types and their
// CUE-validated YAML codec.
package model

import (
	"fmt"
	"io"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	goyaml "gopkg.in/yaml.v3"

	_ "embed"
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	if err := compiled.Validate(); err != nil {
		panic(err)
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
}

type Config struct {
	Version      int     `json:"version" yaml:"version"`
	Fofa         *Fofa   `json:"fofa,omitempty" yaml:"fofa,omitempty"`
	Nuclei       Nuclei  `json:"nuclei" yaml:"nuclei"`
	Proxy        *Proxy  `json:"proxy,omitempty" yaml:"proxy,omitempty"`
	TemplatesDir string  `json:"templates_dir,omitempty" yaml:"templates_dir,omitempty"`
	Verbose      bool    `json:"verbose" yaml:"verbose"`
}

// Fofa holds the asset search API credentials and query defaults.
type Fofa struct {
	Email     string   `json:"email" yaml:"email"`
	Key       string   `json:"key" yaml:"key"`
	Fields    []string `json:"fields" yaml:"fields"`
	QuerySize int      `json:"query_size" yaml:"query_size"`
}

// Nuclei holds scanner invocation defaults.
type Nuclei struct {
	Binary      string `json:"binary" yaml:"binary"`
	RateLimit   int    `json:"rate_limit" yaml:"rate_limit"`
	Concurrency int    `json:"concurrency" yaml:"concurrency"`
	InteractURL string `json:"interactsh_url,omitempty" yaml:"interactsh_url,omitempty"`
}

// Proxy is the per-protocol proxy configuration.
type Proxy struct {
	HTTP   string `json:"http,omitempty" yaml:"http,omitempty"`
	HTTPS  string `json:"https,omitempty" yaml:"https,omitempty"`
	Socks5 string `json:"socks5,omitempty" yaml:"socks5,omitempty"`
}

// DefaultConfig returns the configuration materialized from the
// schema's defaults.
func DefaultConfig() Config {
	return Config{
		Version: 0,
		Nuclei: Nuclei{
			Binary:      "nuclei",
			RateLimit:   50,
			Concurrency: 25,
		},
	}
}

// DefaultFofaFields is the field list requested from the search API
// when the configuration does not override it.
func DefaultFofaFields() []string {
	return []string{"host", "ip", "port", "title", "server", "banner"}
}

// LoadConfig validates YAML from r against the CUE schema and decodes
// it, with schema defaults filled in.
func LoadConfig(r io.Reader) (Config, error) {
	yamlFile, err := yaml.Extract("waverly.yaml", r)
	if err != nil {
		return Config{}, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return Config{}, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return Config{}, err
	}

	return out, nil
}

// SaveConfig encodes the configuration as YAML.
func SaveConfig(w io.Writer, cfg Config) error {
	enc := goyaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encoding configuration: %w", err)
	}
	return enc.Close()
}
