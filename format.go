package refconf

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/afero"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// DecodeFunc parses file content into a Value.
type DecodeFunc func(data []byte) (Value, error)

// ModuleEvaluator evaluates an executable module and returns its exported value.
// The result is converted with FromNative, so functions become opaque values.
type ModuleEvaluator interface {
	Evaluate(ctx context.Context, path string) (any, error)
}

// ModuleEvaluatorFunc is a function adapter for ModuleEvaluator.
type ModuleEvaluatorFunc func(ctx context.Context, path string) (any, error)

func (f ModuleEvaluatorFunc) Evaluate(ctx context.Context, path string) (any, error) {
	return f(ctx, path)
}

// errEmptyDocument is reported for YAML files that contain no document.
var errEmptyDocument = errors.New("empty document")

var errIsDirectory = errors.New("is a directory")

type format struct {
	name   string
	decode DecodeFunc
}

// FormatLoader loads a referenced file and parses it according to its
// final extension. Extension matching is case-sensitive.
type FormatLoader struct {
	fs         afero.Fs
	formats    map[string]format
	moduleExts map[string]bool
	evaluator  ModuleEvaluator
}

// FormatOption configures a FormatLoader.
type FormatOption func(*FormatLoader)

// WithDecoder registers a decoder for ext (including the leading dot).
// name appears in MalformedDocumentError.
func WithDecoder(ext, name string, decode DecodeFunc) FormatOption {
	return func(l *FormatLoader) {
		l.formats[ext] = format{name: name, decode: decode}
	}
}

// WithExtendedFormats adds .toml and .jsonc decoding. Without it those files
// load as raw bytes.
func WithExtendedFormats() FormatOption {
	return func(l *FormatLoader) {
		l.formats[".toml"] = format{name: "toml", decode: DecodeTOML}
		l.formats[".jsonc"] = format{name: "jsonc", decode: DecodeJSONC}
	}
}

// WithModuleExtensions replaces the extensions evaluated as executable
// modules. Default: ".js".
func WithModuleExtensions(exts ...string) FormatOption {
	return func(l *FormatLoader) {
		l.moduleExts = make(map[string]bool, len(exts))
		for _, ext := range exts {
			l.moduleExts[ext] = true
		}
	}
}

// WithEvaluator sets the evaluator for module references.
func WithEvaluator(e ModuleEvaluator) FormatOption {
	return func(l *FormatLoader) {
		l.evaluator = e
	}
}

// NewFormatLoader creates a loader reading from fs (the OS filesystem if nil)
// with YAML (.yml, .yaml) and JSON (.json) decoding.
func NewFormatLoader(fs afero.Fs, opts ...FormatOption) *FormatLoader {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	l := &FormatLoader{
		fs: fs,
		formats: map[string]format{
			".yml":  {name: "yaml", decode: DecodeYAML},
			".yaml": {name: "yaml", decode: DecodeYAML},
			".json": {name: "json", decode: DecodeJSON},
		},
		moduleExts: map[string]bool{".js": true},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads path and returns its parsed content. Errors are
// *MissingFileError, *UnreadableFileError, *MalformedDocumentError or
// *ModuleEvaluationError; recovery is left to the caller.
func (l *FormatLoader) Load(ctx context.Context, path string) (Value, error) {
	if err := ctx.Err(); err != nil {
		return Value{}, err
	}

	info, err := l.fs.Stat(path)
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return Value{}, &MissingFileError{Path: path, Err: err}
		}
		return Value{}, &UnreadableFileError{Path: path, Err: err}
	}
	if info.IsDir() {
		return Value{}, &UnreadableFileError{Path: path, Err: errIsDirectory}
	}

	ext := filepath.Ext(path)
	if l.moduleExts[ext] {
		return l.evaluate(ctx, path)
	}

	data, err := afero.ReadFile(l.fs, path)
	if err != nil {
		return Value{}, &UnreadableFileError{Path: path, Err: err}
	}

	f, ok := l.formats[ext]
	if !ok {
		return OpaqueValue(data), nil
	}
	v, err := f.decode(data)
	if err != nil {
		return Value{}, &MalformedDocumentError{Path: path, Format: f.name, Err: err}
	}
	return v, nil
}

func (l *FormatLoader) evaluate(ctx context.Context, path string) (v Value, err error) {
	if l.evaluator == nil {
		return Value{}, &ModuleEvaluationError{Path: path, Err: ErrNoModuleEvaluator}
	}
	defer func() {
		if r := recover(); r != nil {
			v, err = Value{}, &ModuleEvaluationError{Path: path, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	exported, err := l.evaluator.Evaluate(ctx, path)
	if err != nil {
		return Value{}, &ModuleEvaluationError{Path: path, Err: err}
	}
	return FromNative(exported), nil
}

// DecodeYAML parses the first YAML document in data, preserving mapping key
// order. An empty document is an error, and so is a document whose aliases
// expand far beyond its own size.
func DecodeYAML(data []byte) (Value, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Value{}, err
	}
	if doc.Kind == 0 || (doc.Kind == yaml.DocumentNode && len(doc.Content) == 0) {
		return Value{}, errEmptyDocument
	}
	var d yamlDecoder
	return d.node(&doc, 0)
}

// maxYAMLDepth bounds alias expansion.
const maxYAMLDepth = 10000

var errExcessiveAliasing = errors.New("document contains excessive aliasing")

// yamlDecoder converts a node tree, counting nodes produced through aliases
// the same way yaml.v3 does when decoding into Go values.
type yamlDecoder struct {
	decodeCount int
	aliasCount  int
	aliasDepth  int
}

// allowedAliasRatio mirrors yaml.v3: small documents may be almost entirely
// aliases, large ones only a tenth.
func allowedAliasRatio(decodeCount int) float64 {
	const low, high = 400000, 4000000
	switch {
	case decodeCount <= low:
		return 0.99
	case decodeCount >= high:
		return 0.10
	default:
		return 0.99 - 0.89*(float64(decodeCount-low)/float64(high-low))
	}
}

func (d *yamlDecoder) node(n *yaml.Node, depth int) (Value, error) {
	if depth > maxYAMLDepth {
		return Value{}, errors.New("document nesting too deep")
	}
	d.decodeCount++
	if d.aliasDepth > 0 {
		d.aliasCount++
	}
	if d.aliasCount > 100 && d.decodeCount > 1000 &&
		float64(d.aliasCount)/float64(d.decodeCount) > allowedAliasRatio(d.decodeCount) {
		return Value{}, errExcessiveAliasing
	}

	switch n.Kind {
	case yaml.DocumentNode:
		return d.node(n.Content[0], depth+1)
	case yaml.AliasNode:
		d.aliasDepth++
		v, err := d.node(n.Alias, depth+1)
		d.aliasDepth--
		return v, err
	case yaml.SequenceNode:
		items := make([]Value, 0, len(n.Content))
		for _, c := range n.Content {
			item, err := d.node(c, depth+1)
			if err != nil {
				return Value{}, err
			}
			items = append(items, item)
		}
		return Value{kind: KindSequence, items: items}, nil
	case yaml.MappingNode:
		return d.mapping(n, depth)
	case yaml.ScalarNode:
		switch n.ShortTag() {
		case "!!str", "!!timestamp", "!!binary":
			return StringValue(n.Value), nil
		}
		var x any
		if err := n.Decode(&x); err != nil {
			return Value{}, err
		}
		return FromNative(x), nil
	}
	return Value{}, fmt.Errorf("line %d: unsupported YAML node", n.Line)
}

// mapping applies "<<" merge keys first so explicit keys override them.
func (d *yamlDecoder) mapping(n *yaml.Node, depth int) (Value, error) {
	m := newMappingBuilder(len(n.Content) / 2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].ShortTag() != "!!merge" {
			continue
		}
		merged, err := d.node(n.Content[i+1], depth+1)
		if err != nil {
			return Value{}, err
		}
		sources := []Value{merged}
		if merged.kind == KindSequence {
			sources = merged.items
		}
		for _, src := range sources {
			if src.kind != KindMapping {
				return Value{}, fmt.Errorf("line %d: merge key value is not a mapping", n.Content[i].Line)
			}
			for _, k := range src.keys {
				if _, seen := m.get(k); !seen {
					m.set(k, src.fields[k])
				}
			}
		}
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		key := n.Content[i]
		if key.ShortTag() == "!!merge" {
			continue
		}
		val, err := d.node(n.Content[i+1], depth+1)
		if err != nil {
			return Value{}, err
		}
		m.set(key.Value, val)
	}
	return m.value(), nil
}

// DecodeJSON parses a single JSON value, preserving object key order.
// Integral numbers that fit in int64 decode as KindInt.
func DecodeJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := readJSON(dec)
	if err != nil {
		return Value{}, err
	}
	if _, err := dec.Token(); err != io.EOF {
		if err == nil {
			err = errors.New("unexpected data after top-level value")
		}
		return Value{}, err
	}
	return v, nil
}

// DecodeJSONC parses JSON with comments and trailing commas.
func DecodeJSONC(data []byte) (Value, error) {
	return DecodeJSON(jsonc.ToJSON(data))
}

func readJSON(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		if err == io.EOF {
			return Value{}, io.ErrUnexpectedEOF
		}
		return Value{}, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			m := newMappingBuilder(0)
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return Value{}, fmt.Errorf("object key is %T, not string", keyTok)
				}
				val, err := readJSON(dec)
				if err != nil {
					return Value{}, err
				}
				m.set(key, val)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return m.value(), nil
		case '[':
			var items []Value
			for dec.More() {
				item, err := readJSON(dec)
				if err != nil {
					return Value{}, err
				}
				items = append(items, item)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return Value{kind: KindSequence, items: items}, nil
		}
		return Value{}, fmt.Errorf("unexpected delimiter %q", t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return IntValue(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return Value{}, err
		}
		return FloatValue(f), nil
	case string:
		return StringValue(t), nil
	case bool:
		return BoolValue(t), nil
	case nil:
		return Null(), nil
	}
	return Value{}, fmt.Errorf("unexpected token %v", tok)
}

// DecodeTOML parses a TOML document. TOML tables decode through Go maps, so
// their keys come back sorted.
func DecodeTOML(data []byte) (Value, error) {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return Value{}, err
	}
	if raw == nil {
		return EmptyMapping(), nil
	}
	return FromNative(raw), nil
}
