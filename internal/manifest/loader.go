package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"wireit/internal/diagnostics"
)

// ManifestFileName is the canonical package manifest filename.
const ManifestFileName = "package.json"

// DefaultLockfileName is the canonical lockfile basename synthesized into
// package-lock expansion when a config does not override PackageLocks.
const DefaultLockfileName = "package-lock.json"

// Package is the structured view of one package directory's manifest: its
// scripts section and the decoded wireit configs, keyed by script name.
type Package struct {
	Dir      string
	Path     string
	Scripts  map[string]string
	Configs  map[string]*Config
	Diagnostics []*diagnostics.Diagnostic
}

// Reader caches parsed manifest trees by package directory, per the
// "manifest reader" component: the analyzer's upgrade tasks call through a
// shared Reader so repeated references to the same package directory never
// re-read or re-parse the file.
type Reader struct {
	mu    sync.Mutex
	cache map[string]*Package
}

func NewReader() *Reader {
	return &Reader{cache: make(map[string]*Package)}
}

// Load reads and parses the manifest at dir, or returns the cached result
// from a prior call with the same dir.
func (r *Reader) Load(dir string) (*Package, error) {
	dir = filepath.Clean(dir)

	r.mu.Lock()
	if p, ok := r.cache[dir]; ok {
		r.mu.Unlock()
		return p, nil
	}
	r.mu.Unlock()

	p, err := loadPackage(dir)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	// Another goroutine may have raced us; last-writer loses, first wins,
	// matching the single-flight-per-reference spirit of the analyzer's
	// placeholder walk (duplicate upgrade tasks for the same package
	// directory must converge on one Package value).
	if existing, ok := r.cache[dir]; ok {
		r.mu.Unlock()
		return existing, nil
	}
	r.cache[dir] = p
	r.mu.Unlock()
	return p, nil
}

type rawScripts struct {
	Scripts map[string]string `yaml:"scripts"`
}

func loadPackage(dir string) (*Package, error) {
	path := filepath.Join(dir, ManifestFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &diagnostics.Diagnostic{
				Kind:     diagnostics.KindMissingPackageJSON,
				Severity: diagnostics.SeverityError,
				Message:  fmt.Sprintf("no %s in %s", ManifestFileName, dir),
				Primary:  diagnostics.Position{File: path},
			}
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, &diagnostics.Diagnostic{
			Kind:     diagnostics.KindInvalidJSONSyntax,
			Severity: diagnostics.SeverityError,
			Message:  err.Error(),
			Primary:  diagnostics.Position{File: path},
		}
	}

	p := &Package{Dir: dir, Path: path, Scripts: map[string]string{}, Configs: map[string]*Config{}}

	docNode := documentRoot(&root)
	if docNode == nil || docNode.Kind != yaml.MappingNode {
		p.Diagnostics = append(p.Diagnostics, &diagnostics.Diagnostic{
			Kind:     diagnostics.KindInvalidJSONSyntax,
			Severity: diagnostics.SeverityError,
			Message:  "manifest root must be an object",
			Primary:  diagnostics.Position{File: path},
		})
		return p, nil
	}

	scriptsNode := findMappingValue(docNode, "scripts")
	if scriptsNode == nil || scriptsNode.Kind != yaml.MappingNode {
		p.Diagnostics = append(p.Diagnostics, &diagnostics.Diagnostic{
			Kind:     diagnostics.KindNoScriptsInPackageJSON,
			Severity: diagnostics.SeverityError,
			Message:  fmt.Sprintf("%s has no scripts section", ManifestFileName),
			Primary:  diagnostics.Position{File: path},
		})
		scriptsNode = nil
	} else {
		for i := 0; i+1 < len(scriptsNode.Content); i += 2 {
			k := scriptsNode.Content[i]
			v := scriptsNode.Content[i+1]
			if v.Kind != yaml.ScalarNode || v.Value == "" {
				p.Diagnostics = append(p.Diagnostics, &diagnostics.Diagnostic{
					Kind:     diagnostics.KindNoScriptsInPackageJSON,
					Severity: diagnostics.SeverityError,
					Message:  fmt.Sprintf("script %q must map to a non-blank string", k.Value),
					Primary:  pos(path, v),
				})
				continue
			}
			p.Scripts[k.Value] = v.Value
		}
	}

	wireitNode := findMappingValue(docNode, "wireit")
	if wireitNode != nil && wireitNode.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(wireitNode.Content); i += 2 {
			nameNode := wireitNode.Content[i]
			valNode := wireitNode.Content[i+1]
			name := nameNode.Value

			if _, ok := p.Scripts[name]; !ok {
				p.Diagnostics = append(p.Diagnostics, &diagnostics.Diagnostic{
					Kind:     diagnostics.KindWireitConfigButNoScript,
					Severity: diagnostics.SeverityError,
					Message:  fmt.Sprintf("wireit config for %q but no script of that name", name),
					Primary:  pos(path, nameNode),
				})
				continue
			}

			if schemaDiag := validateAgainstSchema(path, name, valNode); schemaDiag != nil {
				p.Diagnostics = append(p.Diagnostics, schemaDiag)
			}

			cfg, diags := decodeConfig(path, dir, name, valNode)
			p.Diagnostics = append(p.Diagnostics, diags...)
			if cfg != nil {
				if cfg.Files != nil {
					cfg.Files = append(cfg.Files, ExpandPackageLocks(dir, cfg.PackageLocks)...)
				}
				p.Configs[name] = cfg
			}

			if scriptCmd, ok := p.Scripts[name]; ok {
				if warn := CheckScriptInvocation(path, name, scriptCmd); warn != nil {
					p.Diagnostics = append(p.Diagnostics, warn)
				}
			}
		}
	}

	return p, nil
}

// documentRoot unwraps a yaml.Node parsed via yaml.Unmarshal(&node), which
// always produces a DocumentNode wrapping the real root.
func documentRoot(n *yaml.Node) *yaml.Node {
	if n.Kind == yaml.DocumentNode && len(n.Content) == 1 {
		return n.Content[0]
	}
	return n
}

func findMappingValue(mapping *yaml.Node, key string) *yaml.Node {
	if mapping == nil || mapping.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}

func pos(file string, n *yaml.Node) diagnostics.Position {
	if n == nil {
		return diagnostics.Position{File: file}
	}
	return diagnostics.Position{File: file, Line: n.Line, Column: n.Column}
}

// sortedKeys returns m's keys in sorted order, independent of source order
// (yaml.Node content order is source order). Nothing in this package calls
// it.
func sortedKeys(m map[string]string) []string {
	ks := make([]string, 0, len(m))
	for k := range m {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	return ks
}
