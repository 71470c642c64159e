package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// RawKey is the field a Raw section is encoded under.
const RawKey = "_raw"

// FromYAML decodes YAML text into a Value, preserving mapping order.
func FromYAML(data []byte) (Value, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	if root.Kind == 0 {
		return Missing{}, nil
	}
	return FromYAMLNode(&root)
}

// MaxYAMLNodes bounds how many nodes one conversion may produce, counting
// every alias expansion.
const MaxYAMLNodes = 100000

var (
	// ErrAliasCycle is returned for an alias that refers to one of its own ancestors.
	ErrAliasCycle = errors.New("yaml alias refers to itself")
	// ErrTooManyNodes is returned when alias expansion exceeds MaxYAMLNodes.
	ErrTooManyNodes = errors.New("yaml document expands to too many nodes")
)

// FromYAMLNode converts a decoded yaml.v3 node tree.
func FromYAMLNode(node *yaml.Node) (Value, error) {
	converter := &yamlConverter{expanding: map[*yaml.Node]struct{}{}, budget: MaxYAMLNodes}
	return converter.convert(node)
}

type yamlConverter struct {
	expanding map[*yaml.Node]struct{}
	budget    int
}

func (c *yamlConverter) convert(node *yaml.Node) (Value, error) {
	c.budget--
	if c.budget < 0 {
		return nil, ErrTooManyNodes
	}
	switch node.Kind {
	case yaml.DocumentNode:
		if len(node.Content) == 0 {
			return Missing{}, nil
		}
		return c.convert(node.Content[0])
	case yaml.AliasNode:
		if node.Alias == nil {
			return Missing{}, nil
		}
		if _, open := c.expanding[node.Alias]; open {
			return nil, errors.Wrapf(ErrAliasCycle, "alias *%s", node.Value)
		}
		c.expanding[node.Alias] = struct{}{}
		defer delete(c.expanding, node.Alias)
		return c.convert(node.Alias)
	case yaml.MappingNode:
		if node.Anchor != "" {
			if _, open := c.expanding[node]; !open {
				c.expanding[node] = struct{}{}
				defer delete(c.expanding, node)
			}
		}
		mapping := NewMap()
		for index := 0; index+1 < len(node.Content); index += 2 {
			keyNode, valueNode := node.Content[index], node.Content[index+1]
			value, err := c.convert(valueNode)
			if err != nil {
				return nil, err
			}
			if keyNode.Tag == "!!merge" {
				if merged, ok := value.(*Map); ok {
					for _, key := range merged.Keys() {
						if !mapping.Has(key) {
							mapping.Set(key, merged.Get(key))
						}
					}
				}
				continue
			}
			mapping.Set(keyNode.Value, value)
		}
		return mapping, nil
	case yaml.SequenceNode:
		if node.Anchor != "" {
			if _, open := c.expanding[node]; !open {
				c.expanding[node] = struct{}{}
				defer delete(c.expanding, node)
			}
		}
		list := make(List, 0, len(node.Content))
		for _, child := range node.Content {
			value, err := c.convert(child)
			if err != nil {
				return nil, err
			}
			list = append(list, value)
		}
		return list, nil
	case yaml.ScalarNode:
		var decoded any
		if err := node.Decode(&decoded); err != nil {
			return nil, err
		}
		return scalarOf(decoded), nil
	}
	return nil, errors.Newf("unsupported yaml node kind %d", node.Kind)
}

// FromJSON decodes JSON text into a Value, preserving object key order.
func FromJSON(data []byte) (Value, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	value, err := decodeJSONValue(decoder)
	if err != nil {
		return nil, err
	}
	if _, err := decoder.Token(); err != io.EOF {
		return nil, errors.New("unexpected data after top-level json value")
	}
	return value, nil
}

func decodeJSONValue(decoder *json.Decoder) (Value, error) {
	token, err := decoder.Token()
	if err != nil {
		return nil, err
	}
	switch typed := token.(type) {
	case json.Delim:
		switch typed {
		case '{':
			mapping := NewMap()
			for decoder.More() {
				keyToken, err := decoder.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyToken.(string)
				if !ok {
					return nil, errors.Newf("object key %v is not a string", keyToken)
				}
				value, err := decodeJSONValue(decoder)
				if err != nil {
					return nil, err
				}
				mapping.Set(key, value)
			}
			if _, err := decoder.Token(); err != nil {
				return nil, err
			}
			return mapping, nil
		case '[':
			list := List{}
			for decoder.More() {
				value, err := decodeJSONValue(decoder)
				if err != nil {
					return nil, err
				}
				list = append(list, value)
			}
			if _, err := decoder.Token(); err != nil {
				return nil, err
			}
			return list, nil
		}
		return nil, errors.Newf("unexpected delimiter %q", rune(typed))
	case json.Number:
		if integer, err := typed.Int64(); err == nil {
			return Scalar{V: integer}, nil
		}
		float, err := typed.Float64()
		if err != nil {
			return nil, err
		}
		return Scalar{V: float}, nil
	default:
		return Scalar{V: typed}, nil
	}
}

// FromAny converts generic decoded data. Keys of Go maps are sorted since
// their order is not defined.
func FromAny(value any) Value {
	switch typed := value.(type) {
	case nil:
		return Scalar{}
	case Value:
		return typed
	case map[string]any:
		keys := make([]string, 0, len(typed))
		for key := range typed {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		mapping := NewMap()
		for _, key := range keys {
			mapping.Set(key, FromAny(typed[key]))
		}
		return mapping
	case []any:
		list := make(List, 0, len(typed))
		for _, item := range typed {
			list = append(list, FromAny(item))
		}
		return list
	case []string:
		list := make(List, 0, len(typed))
		for _, item := range typed {
			list = append(list, Scalar{V: item})
		}
		return list
	default:
		return scalarOf(typed)
	}
}

// ToAny converts a Value back into plain Go data.
func ToAny(value Value) any {
	switch typed := value.(type) {
	case Scalar:
		return typed.V
	case List:
		items := make([]any, 0, len(typed))
		for _, item := range typed {
			items = append(items, ToAny(item))
		}
		return items
	case *Map:
		result := make(map[string]any, typed.Len())
		for _, key := range typed.Keys() {
			result[key] = ToAny(typed.Get(key))
		}
		return result
	case Raw:
		return map[string]any{RawKey: typed.Text}
	default:
		return nil
	}
}

func scalarOf(value any) Scalar {
	switch typed := value.(type) {
	case nil, string, bool, int64, float64:
		return Scalar{V: typed}
	case int:
		return Scalar{V: int64(typed)}
	case int32:
		return Scalar{V: int64(typed)}
	case uint64:
		return Scalar{V: int64(typed)}
	case uint:
		return Scalar{V: int64(typed)}
	case float32:
		return Scalar{V: float64(typed)}
	case time.Time:
		return Scalar{V: typed.Format(time.RFC3339)}
	default:
		return Scalar{V: fmt.Sprint(typed)}
	}
}

// Clone returns a copy of the map's top level. Nested values are shared.
func (m *Map) Clone() *Map {
	clone := NewMap()
	for _, key := range m.Keys() {
		clone.Set(key, m.Get(key))
	}
	return clone
}

// Clone returns a document whose top-level sections can be changed independently.
func (d Document) Clone() Document {
	return Document{Map: d.Map.Clone()}
}

// MarshalYAML keeps key order.
func (m *Map) MarshalYAML() (any, error) { return yamlNode(m) }

func (l List) MarshalYAML() (any, error)    { return yamlNode(l) }
func (s Scalar) MarshalYAML() (any, error)  { return yamlNode(s) }
func (r Raw) MarshalYAML() (any, error)     { return yamlNode(r) }
func (m Missing) MarshalYAML() (any, error) { return yamlNode(m) }

func yamlNode(value Value) (*yaml.Node, error) {
	switch typed := value.(type) {
	case *Map:
		node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, key := range typed.Keys() {
			child, err := yamlNode(typed.Get(key))
			if err != nil {
				return nil, err
			}
			node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, child)
		}
		return node, nil
	case List:
		node := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, item := range typed {
			child, err := yamlNode(item)
			if err != nil {
				return nil, err
			}
			node.Content = append(node.Content, child)
		}
		return node, nil
	case Scalar:
		node := &yaml.Node{}
		if err := node.Encode(typed.V); err != nil {
			return nil, err
		}
		return node, nil
	case Raw:
		text := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: typed.Text, Style: yaml.LiteralStyle}
		return &yaml.Node{
			Kind:    yaml.MappingNode,
			Tag:     "!!map",
			Content: []*yaml.Node{{Kind: yaml.ScalarNode, Tag: "!!str", Value: RawKey}, text},
		}, nil
	default:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}, nil
	}
}

// MarshalJSON keeps key order.
func (m *Map) MarshalJSON() ([]byte, error) {
	var buffer bytes.Buffer
	buffer.WriteByte('{')
	for index, key := range m.Keys() {
		if index > 0 {
			buffer.WriteByte(',')
		}
		encodedKey, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buffer.Write(encodedKey)
		buffer.WriteByte(':')
		encodedValue, err := json.Marshal(m.Get(key))
		if err != nil {
			return nil, err
		}
		buffer.Write(encodedValue)
	}
	buffer.WriteByte('}')
	return buffer.Bytes(), nil
}

func (s Scalar) MarshalJSON() ([]byte, error) { return json.Marshal(s.V) }

func (r Raw) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{RawKey: r.Text})
}

func (Missing) MarshalJSON() ([]byte, error) { return []byte("null"), nil }
