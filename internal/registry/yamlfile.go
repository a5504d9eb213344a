package registry

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// InvalidYAMLError reports a registry seed document that doesn't match the
// expected hive -> nested-mapping -> value shape.
type InvalidYAMLError struct{ Msg string }

func (e *InvalidYAMLError) Error() string { return "invalid registry yaml: " + e.Msg }

// LoadYAML builds a freshly seeded Registry from a YAML seed document,
// spec.md §4.6 "YAML loader", overwriting the default seed with whatever
// the document specifies.
func LoadYAML(data []byte) (*Registry, error) {
	r := New()
	if err := MergeYAML(r, data, ModeOverwrite); err != nil {
		return nil, err
	}
	return r, nil
}

// MergeYAML applies a YAML document's hive -> key -> value tree onto an
// existing registry. The document's top-level keys are hive names; every
// nested mapping is a subkey, and a leaf (scalar or sequence) is a value
// keyed by its own map key ("@" or "(default)" selects the default value).
func MergeYAML(r *Registry, data []byte, mode MergeMode) error {
	var doc map[string]yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return &InvalidYAMLError{Msg: err.Error()}
	}
	for hiveName, node := range doc {
		hive, ok := ParseHive(hiveName)
		if !ok {
			return &InvalidHiveError{Raw: hiveName}
		}
		n := node
		if err := mergeYAMLNode(r, hive, nil, &n, mode); err != nil {
			return err
		}
	}
	return nil
}

func mergeYAMLNode(r *Registry, hive Hive, path []string, node *yaml.Node, mode MergeMode) error {
	if node.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(node.Content); i += 2 {
			keyNode := node.Content[i]
			valNode := node.Content[i+1]
			if keyNode.Kind != yaml.ScalarNode {
				return &InvalidYAMLError{Msg: "key must be a scalar"}
			}
			key := keyNode.Value
			if valNode.Kind == yaml.MappingNode {
				if err := mergeYAMLNode(r, hive, append(path, key), valNode, mode); err != nil {
					return err
				}
				continue
			}
			v, err := valueFromYAML(valNode)
			if err != nil {
				return err
			}
			r.ApplyValue(hive, path, normalizeYAMLValueName(key), v, mode)
		}
		return nil
	}
	v, err := valueFromYAML(node)
	if err != nil {
		return err
	}
	r.ApplyValue(hive, path, "", v, mode)
	return nil
}

func normalizeYAMLValueName(name string) string {
	if name == "@" || equalFoldStr(name, "(default)") {
		return ""
	}
	return name
}

func valueFromYAML(node *yaml.Node) (Value, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		switch node.Tag {
		case "!!int":
			var n uint64
			if err := node.Decode(&n); err != nil {
				return Value{}, &InvalidYAMLError{Msg: "invalid number"}
			}
			return DwordValue(uint32(n)), nil
		default:
			return StringValue(node.Value), nil
		}
	case yaml.SequenceNode:
		allStrings := true
		allInts := true
		for _, item := range node.Content {
			if item.Tag != "!!str" {
				allStrings = false
			}
			if item.Tag != "!!int" {
				allInts = false
			}
		}
		if allStrings {
			strs := make([]string, len(node.Content))
			for i, item := range node.Content {
				strs[i] = item.Value
			}
			return MultiStringValue(strs), nil
		}
		if allInts {
			bytesOut := make([]byte, len(node.Content))
			for i, item := range node.Content {
				var n int64
				if err := item.Decode(&n); err != nil || n < 0 || n > 255 {
					return Value{}, &InvalidYAMLError{Msg: "binary values must be 0-255"}
				}
				bytesOut[i] = byte(n)
			}
			return BinaryValue(bytesOut), nil
		}
		return Value{}, &InvalidYAMLError{Msg: "sequence must be all strings or all 0-255 integers"}
	default:
		return Value{}, &InvalidYAMLError{Msg: fmt.Sprintf("unsupported yaml node kind %d", node.Kind)}
	}
}
