package catalog

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// envExpander replaces ${VAR} references in string values and remembers
// which variables were unset.
type envExpander struct {
	missing map[string]struct{}
}

func newEnvExpander() *envExpander {
	return &envExpander{missing: make(map[string]struct{})}
}

func (e *envExpander) expand(value string) string {
	if !strings.Contains(value, "$") {
		return value
	}
	return os.Expand(value, func(key string) string {
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		e.missing[key] = struct{}{}
		return ""
	})
}

func (e *envExpander) missingVars() []string {
	if len(e.missing) == 0 {
		return nil
	}
	names := make([]string, 0, len(e.missing))
	for name := range e.missing {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// expandYAML rewrites scalar nodes so an unquoted ${PORT} still decodes as
// a number after expansion.
func (e *envExpander) expandYAML(raw []byte) ([]byte, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	e.walkNode(&root)
	out, err := yaml.Marshal(&root)
	if err != nil {
		return nil, fmt.Errorf("encode expanded config: %w", err)
	}
	return out, nil
}

func (e *envExpander) walkNode(node *yaml.Node) {
	switch node.Kind {
	case yaml.DocumentNode, yaml.SequenceNode:
		for _, child := range node.Content {
			e.walkNode(child)
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			e.walkNode(node.Content[i+1])
		}
	case yaml.AliasNode:
		if node.Alias != nil {
			e.walkNode(node.Alias)
		}
	case yaml.ScalarNode:
		if node.Tag != "" && node.Tag != "!!str" {
			return
		}
		expanded := e.expand(node.Value)
		if expanded == node.Value {
			return
		}
		if node.Style != 0 {
			node.Tag = "!!str"
			node.Value = expanded
			return
		}
		node.Tag, node.Value = coerceScalar(expanded)
	}
}

// expandValue walks a decoded document (TOML or JSON) in place.
func (e *envExpander) expandValue(value any) any {
	switch v := value.(type) {
	case string:
		return e.expand(v)
	case map[string]any:
		for key, child := range v {
			v[key] = e.expandValue(child)
		}
		return v
	case []any:
		for i, child := range v {
			v[i] = e.expandValue(child)
		}
		return v
	default:
		return value
	}
}

func coerceScalar(value string) (string, string) {
	if strings.TrimSpace(value) == "" {
		return "!!str", value
	}
	var parsed any
	if err := yaml.Unmarshal([]byte(value), &parsed); err != nil {
		return "!!str", value
	}
	switch v := parsed.(type) {
	case nil:
		return "!!null", "null"
	case bool:
		return "!!bool", strconv.FormatBool(v)
	case int:
		return "!!int", strconv.Itoa(v)
	case float64:
		return "!!float", strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return "!!str", value
	}
}
