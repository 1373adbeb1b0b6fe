package manifest

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"wireit/internal/diagnostics"
)

// wireitRunnerInvocation is the literal script-section command that marks a
// script as wireit-managed. A real manifest's "scripts" entry for a wireit
// script must equal this exactly, or the analyzer warns (§4.1 validation
// rules: "A script listed in the wireit section must have its script-section
// command equal to the literal string that invokes the wireit runner").
const wireitRunnerInvocation = "wireit"

// decodeConfig decodes one wireit.<script> object and applies the
// structural validation rules from the analyzer contract, including
// rejecting duplicate dependencies within this config. It never consults
// other scripts' configs — cross-package resolution and missing-script
// checks are deferred to the analyzer, which has the whole graph.
func decodeConfig(path, packageDir, name string, node *yaml.Node) (*Config, []*diagnostics.Diagnostic) {
	var diags []*diagnostics.Diagnostic

	if node.Kind != yaml.MappingNode {
		return nil, []*diagnostics.Diagnostic{{
			Kind:     diagnostics.KindInvalidConfigSyntax,
			Severity: diagnostics.SeverityError,
			Message:  fmt.Sprintf("wireit.%s must be an object", name),
			Primary:  pos(path, node),
		}}
	}

	cfg := &Config{
		Reference:     Reference{PackageDir: packageDir, Name: name},
		DeclaringFile: path,
		Clean:         CleanAlways,
		Pos:           pos(path, node),
	}

	var (
		commandNode *yaml.Node
		depsNode    *yaml.Node
		filesNode   *yaml.Node
		outputNode  *yaml.Node
		cleanNode   *yaml.Node
		locksNode   *yaml.Node
		serviceNode *yaml.Node
		envNode     *yaml.Node
	)

	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i]
		val := node.Content[i+1]
		switch key.Value {
		case "command":
			commandNode = val
		case "dependencies":
			depsNode = val
		case "files":
			filesNode = val
		case "output":
			outputNode = val
		case "clean":
			cleanNode = val
		case "packageLocks":
			locksNode = val
		case "service":
			serviceNode = val
		case "env":
			envNode = val
		}
	}

	if commandNode != nil && commandNode.Kind == yaml.ScalarNode {
		cfg.Command = commandNode.Value
	}

	if depsNode != nil {
		deps, ddiags := decodeDependencies(path, depsNode)
		diags = append(diags, ddiags...)
		cfg.Dependencies = deps
	}

	if cfg.Command == "" && len(cfg.Dependencies) == 0 {
		diags = append(diags, &diagnostics.Diagnostic{
			Kind:     diagnostics.KindInvalidConfigSyntax,
			Severity: diagnostics.SeverityError,
			Message:  fmt.Sprintf("wireit.%s has neither command nor dependencies", name),
			Primary:  cfg.Pos,
		})
	}

	if serviceNode != nil && serviceNode.Kind == yaml.MappingNode {
		cfg.Kind = KindService
		if rw := findMappingValue(serviceNode, "readyWhen"); rw != nil {
			if lm := findMappingValue(rw, "lineMatches"); lm != nil {
				cfg.Service.ReadyWhenLineMatches = lm.Value
			}
		}
	} else if cfg.Command != "" {
		cfg.Kind = KindOneShot
	} else {
		cfg.Kind = KindNoCommand
	}

	if filesNode != nil {
		files, fdiags := decodeStringList(path, filesNode, "files")
		diags = append(diags, fdiags...)
		cfg.Files = files // may be a non-nil empty slice; nil only if filesNode==nil.
	}

	if outputNode != nil {
		output, odiags := decodeStringList(path, outputNode, "output")
		diags = append(diags, odiags...)
		cfg.Output = output
	}

	if cleanNode != nil {
		clean, cdiag := decodeClean(path, cleanNode)
		if cdiag != nil {
			diags = append(diags, cdiag)
		} else {
			cfg.Clean = clean
		}
	}

	if locksNode != nil {
		locks, ldiags := decodeStringList(path, locksNode, "packageLocks")
		diags = append(diags, ldiags...)
		for _, l := range locks {
			if strings.ContainsRune(l, '/') || strings.ContainsRune(l, '\\') {
				diags = append(diags, &diagnostics.Diagnostic{
					Kind:     diagnostics.KindInvalidConfigSyntax,
					Severity: diagnostics.SeverityError,
					Message:  fmt.Sprintf("packageLocks entry %q must be a basename, not a path", l),
					Primary:  pos(path, locksNode),
				})
			}
		}
		cfg.PackageLocks = locks
	}

	if envNode != nil && envNode.Kind == yaml.MappingNode {
		cfg.Env = map[string]string{}
		for i := 0; i+1 < len(envNode.Content); i += 2 {
			cfg.Env[envNode.Content[i].Value] = envNode.Content[i+1].Value
		}
	}

	return cfg, diags
}

func decodeStringList(path string, node *yaml.Node, field string) ([]string, []*diagnostics.Diagnostic) {
	if node.Kind != yaml.SequenceNode {
		return nil, []*diagnostics.Diagnostic{{
			Kind:     diagnostics.KindInvalidConfigSyntax,
			Severity: diagnostics.SeverityError,
			Message:  fmt.Sprintf("%s must be an array", field),
			Primary:  pos(path, node),
		}}
	}
	out := make([]string, 0, len(node.Content))
	for _, item := range node.Content {
		out = append(out, item.Value)
	}
	return out, nil
}

func decodeClean(path string, node *yaml.Node) (CleanPolicy, *diagnostics.Diagnostic) {
	switch node.Value {
	case "true":
		return CleanAlways, nil
	case "false":
		return CleanNever, nil
	case "if-file-deleted":
		return CleanIfFileDeleted, nil
	default:
		return "", &diagnostics.Diagnostic{
			Kind:     diagnostics.KindInvalidConfigSyntax,
			Severity: diagnostics.SeverityError,
			Message:  fmt.Sprintf(`clean must be true, false, or "if-file-deleted" (got %q)`, node.Value),
			Primary:  pos(path, node),
		}
	}
}

func decodeDependencies(path string, node *yaml.Node) ([]Dependency, []*diagnostics.Diagnostic) {
	if node.Kind != yaml.SequenceNode {
		return nil, []*diagnostics.Diagnostic{{
			Kind:     diagnostics.KindInvalidConfigSyntax,
			Severity: diagnostics.SeverityError,
			Message:  "dependencies must be an array",
			Primary:  pos(path, node),
		}}
	}

	var diags []*diagnostics.Diagnostic
	deps := make([]Dependency, 0, len(node.Content))
	seen := map[string]diagnostics.Position{}

	for _, item := range node.Content {
		raw := item.Value
		cascade := true
		name := raw
		if strings.HasPrefix(name, "!") {
			cascade = false
			name = strings.TrimPrefix(name, "!")
		}

		var ref Reference
		if strings.HasPrefix(name, ".") {
			idx := strings.Index(name, ":")
			if idx < 0 {
				diags = append(diags, &diagnostics.Diagnostic{
					Kind:     diagnostics.KindInvalidConfigSyntax,
					Severity: diagnostics.SeverityError,
					Message:  fmt.Sprintf("cross-package dependency %q must be of the form ./relpath:name", raw),
					Primary:  pos(path, item),
				})
				continue
			}
			relPath, scriptName := name[:idx], name[idx+1:]
			if relPath == "" || scriptName == "" {
				diags = append(diags, &diagnostics.Diagnostic{
					Kind:     diagnostics.KindInvalidConfigSyntax,
					Severity: diagnostics.SeverityError,
					Message:  fmt.Sprintf("cross-package dependency %q has an empty path or script name", raw),
					Primary:  pos(path, item),
				})
				continue
			}
			ref = Reference{PackageDir: relPath, Name: scriptName} // resolved to an absolute dir by the analyzer.
		} else {
			ref = Reference{PackageDir: "", Name: name} // resolved to the current package dir by the analyzer.
		}

		key := ref.String()
		if prev, ok := seen[key]; ok {
			diags = append(diags, (&diagnostics.Diagnostic{
				Kind:     diagnostics.KindDuplicateDependency,
				Severity: diagnostics.SeverityError,
				Message:  fmt.Sprintf("duplicate dependency %q", raw),
				Primary:  pos(path, item),
			}).WithRelated(prev))
			continue
		}
		seen[key] = pos(path, item)

		deps = append(deps, Dependency{Reference: ref, Cascade: cascade, Pos: pos(path, item)})
	}

	sort.Slice(deps, func(i, j int) bool {
		if deps[i].Reference.PackageDir != deps[j].Reference.PackageDir {
			return deps[i].Reference.PackageDir < deps[j].Reference.PackageDir
		}
		return deps[i].Reference.Name < deps[j].Reference.Name
	})

	return deps, diags
}

// CheckScriptInvocation validates that script's "scripts" entry in the
// manifest literally invokes the wireit runner, per the analyzer's
// validation rules. It returns a warning Diagnostic, never an error: this
// is a correctness hint, not a structural failure.
func CheckScriptInvocation(path, name, scriptCommand string) *diagnostics.Diagnostic {
	if scriptCommand == wireitRunnerInvocation {
		return nil
	}
	return diagnostics.Warnf(diagnostics.KindScriptNotWireit, diagnostics.Position{File: path},
		"script %q has a wireit config but its scripts entry is %q, not %q", name, scriptCommand, wireitRunnerInvocation)
}
