package refconf

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/Azhovan/refconf/internal/normalize"
	"gopkg.in/yaml.v3"
)

// redacted replaces the value of keys selected with WithRedact.
const redacted = "***redacted***"

// DumpOption configures dump behavior using the functional options pattern.
type DumpOption func(*dumpConfig)

// dumpConfig holds options for DumpEffective.
type dumpConfig struct {
	format string          // "text", "json" or "yaml"
	indent string          // Indentation for JSON output (default: "  ")
	redact map[string]bool // Lowercased dot paths to redact
}

// AsJSON outputs configuration as JSON instead of text format.
func AsJSON() DumpOption {
	return func(cfg *dumpConfig) {
		cfg.format = "json"
	}
}

// AsYAML outputs configuration as a YAML document.
func AsYAML() DumpOption {
	return func(cfg *dumpConfig) {
		cfg.format = "yaml"
	}
}

// WithIndent sets the indentation for JSON output.
// Default is two spaces ("  "); empty produces compact JSON.
func WithIndent(indent string) DumpOption {
	return func(cfg *dumpConfig) {
		cfg.indent = indent
	}
}

// WithRedact hides the values at the given dot paths (e.g., "database.password").
// Matching is case-insensitive. A redacted container is hidden as a whole.
func WithRedact(paths ...string) DumpOption {
	return func(cfg *dumpConfig) {
		for _, p := range paths {
			cfg.redact[strings.ToLower(p)] = true
		}
	}
}

// DumpEffective writes a human-readable representation of v.
// Text output lists one "key.path: value" line per leaf in insertion order.
// Raw byte values are written as text. JSON has no NaN or infinity, so those
// floats are written as the strings ".nan", ".inf" and "-.inf".
// Returns an error if writing fails.
func DumpEffective(w io.Writer, v Value, opts ...DumpOption) error {
	config := dumpConfig{
		format: "text",
		indent: "  ",
		redact: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(&config)
	}

	v = prepareDump(v, "", config.redact)

	switch config.format {
	case "json":
		return dumpAsJSON(w, v, config)
	case "yaml":
		return dumpAsYAML(w, v)
	default:
		return dumpAsText(w, v)
	}
}

// prepareDump applies redaction and turns opaque payloads into strings.
func prepareDump(v Value, path string, redact map[string]bool) Value {
	if path != "" && redact[strings.ToLower(path)] {
		return StringValue(redacted)
	}
	switch v.kind {
	case KindMapping:
		m := newMappingBuilder(len(v.keys))
		for _, k := range v.keys {
			m.set(k, prepareDump(v.fields[k], normalize.ApplyPrefix(path, k), redact))
		}
		return m.value()
	case KindSequence:
		items := make([]Value, len(v.items))
		for i, item := range v.items {
			items[i] = prepareDump(item, normalize.ApplyPrefix(path, strconv.Itoa(i)), redact)
		}
		return Value{kind: KindSequence, items: items}
	case KindOpaque:
		if b, ok := v.scalar.([]byte); ok {
			return StringValue(string(b))
		}
		return StringValue(fmt.Sprint(v.scalar))
	case KindUndefined:
		return Null()
	}
	return v
}

// dumpAsText outputs configuration in text format (key: value).
func dumpAsText(w io.Writer, v Value) error {
	var lines []string
	collectLines(v, "", &lines)

	for _, line := range lines {
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return fmt.Errorf("write error: %w", err)
		}
	}
	return nil
}

func collectLines(v Value, path string, lines *[]string) {
	switch {
	case v.kind == KindMapping && len(v.keys) > 0:
		for _, k := range v.keys {
			collectLines(v.fields[k], normalize.ApplyPrefix(path, k), lines)
		}
		return
	case v.kind == KindSequence && len(v.items) > 0:
		for i, item := range v.items {
			collectLines(item, normalize.ApplyPrefix(path, strconv.Itoa(i)), lines)
		}
		return
	}

	var display string
	switch v.kind {
	case KindMapping:
		display = "{}"
	case KindSequence:
		display = "[]"
	case KindString:
		display = strconv.Quote(v.scalar.(string))
	default:
		display = v.String()
	}
	if path == "" {
		*lines = append(*lines, display)
		return
	}
	*lines = append(*lines, path+": "+display)
}

// dumpAsJSON outputs configuration as JSON, keeping mapping key order.
func dumpAsJSON(w io.Writer, v Value, config dumpConfig) error {
	var buf bytes.Buffer
	if err := encodeJSON(&buf, v); err != nil {
		return fmt.Errorf("json marshal error: %w", err)
	}

	data := buf.Bytes()
	if config.indent != "" {
		var out bytes.Buffer
		if err := json.Indent(&out, data, "", config.indent); err != nil {
			return fmt.Errorf("json marshal error: %w", err)
		}
		data = out.Bytes()
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write error: %w", err)
	}

	// Add newline for better formatting
	if _, err := w.Write([]byte("\n")); err != nil {
		return fmt.Errorf("write error: %w", err)
	}

	return nil
}

func encodeJSON(buf *bytes.Buffer, v Value) error {
	switch v.kind {
	case KindMapping:
		buf.WriteByte('{')
		for i, k := range v.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(key)
			buf.WriteByte(':')
			if err := encodeJSON(buf, v.fields[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case KindSequence:
		buf.WriteByte('[')
		for i, item := range v.items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeJSON(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case KindFloat:
		if f := v.scalar.(float64); math.IsNaN(f) || math.IsInf(f, 0) {
			data, _ := json.Marshal(formatYAMLFloat(f))
			buf.Write(data)
			return nil
		}
	}
	data, err := json.Marshal(v.Native())
	if err != nil {
		return err
	}
	buf.Write(data)
	return nil
}

// dumpAsYAML outputs configuration as a YAML document, keeping mapping key order.
func dumpAsYAML(w io.Writer, v Value) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(toYAMLNode(v)); err != nil {
		return fmt.Errorf("yaml marshal error: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("write error: %w", err)
	}
	return nil
}

func toYAMLNode(v Value) *yaml.Node {
	switch v.kind {
	case KindMapping:
		n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, k := range v.keys {
			n.Content = append(n.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k},
				toYAMLNode(v.fields[k]))
		}
		return n
	case KindSequence:
		n := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, item := range v.items {
			n.Content = append(n.Content, toYAMLNode(item))
		}
		return n
	case KindString:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v.scalar.(string)}
	case KindInt:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.FormatInt(v.scalar.(int64), 10)}
	case KindFloat:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: formatYAMLFloat(v.scalar.(float64))}
	case KindBool:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(v.scalar.(bool))}
	}
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
}

func formatYAMLFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return ".nan"
	case math.IsInf(f, 1):
		return ".inf"
	case math.IsInf(f, -1):
		return "-.inf"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
