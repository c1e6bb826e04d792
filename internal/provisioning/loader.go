package provisioning

import (
	"bytes"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/zjrosen/pvdd/internal/pvd"
)

// yamlDeclaration is the YAML form of a declaration. Attributes is kept as
// a node so mapping order survives decoding.
//
//	id: net-a.example.com
//	attributes:
//	  dns-suffix: example.com
//	  mtu: "1500"
//	addresses: [2001:db8::1]
type yamlDeclaration struct {
	ID         string    `yaml:"id"`
	Attributes yaml.Node `yaml:"attributes"`
	Addresses  []string  `yaml:"addresses"`
}

// tomlDeclaration is the TOML form of a declaration. TOML tables are
// unordered, so attributes are an array of tables.
//
//	id = "net-a.example.com"
//	addresses = ["2001:db8::1"]
//
//	[[attribute]]
//	key = "dns-suffix"
//	value = "example.com"
type tomlDeclaration struct {
	ID        string          `toml:"id"`
	Addresses []string        `toml:"addresses"`
	Attribute []tomlAttribute `toml:"attribute"`
}

type tomlAttribute struct {
	Key   string `toml:"key"`
	Value string `toml:"value"`
}

// IsDeclarationFile reports whether name has a declaration file extension.
// Hidden files are ignored so editor swap files never load.
func IsDeclarationFile(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".yaml", ".yml", ".toml":
		return true
	}
	return false
}

// LoadFile parses one declaration file.
func LoadFile(path string) (Declaration, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from the configured provisioning directory
	if err != nil {
		return Declaration{}, fmt.Errorf("reading %s: %w", path, err)
	}

	var decl Declaration
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		decl, err = parseYAML(data)
	case ".toml":
		decl, err = parseTOML(data)
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
	if err != nil {
		return Declaration{}, fmt.Errorf("%s: %w", path, err)
	}

	decl.Source = FileSource(path)
	if _, err := decl.Validate(); err != nil {
		return Declaration{}, fmt.Errorf("%s: %w", path, err)
	}
	return decl, nil
}

// LoadDir parses every declaration file directly inside dir, in file name
// order. Files that fail to parse are reported together in the returned
// error; the declarations that did parse are still returned. A missing
// directory yields no declarations.
func LoadDir(dir string) ([]Declaration, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading provisioning directory: %w", err)
	}

	var (
		decls []Declaration
		errs  []error
		seen  = make(map[pvd.Identity]string)
	)
	for _, entry := range entries {
		if entry.IsDir() || !IsDeclarationFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		decl, err := LoadFile(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		id, _ := decl.Validate()
		if first, dup := seen[id]; dup {
			errs = append(errs, fmt.Errorf("%s: %w: %s (first in %s)", path, ErrDuplicateIdentity, id, first))
			continue
		}
		seen[id] = path
		decls = append(decls, decl)
	}
	return decls, errors.Join(errs...)
}

func parseYAML(data []byte) (Declaration, error) {
	var raw yamlDeclaration
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return Declaration{}, fmt.Errorf("parsing yaml: %w", err)
	}

	attrs, err := yamlAttributes(&raw.Attributes)
	if err != nil {
		return Declaration{}, err
	}
	addrs, err := parseAddrs(raw.Addresses)
	if err != nil {
		return Declaration{}, err
	}
	return Declaration{Identity: raw.ID, Attributes: attrs, Addresses: addrs}, nil
}

func yamlAttributes(node *yaml.Node) ([]pvd.Attribute, error) {
	if node.Kind == 0 || (node.Kind == yaml.ScalarNode && node.Tag == "!!null") {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: attributes must be a mapping", node.Line)
	}

	attrs := make([]pvd.Attribute, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i], node.Content[i+1]
		if v.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("line %d: attribute %q must have a scalar value", v.Line, k.Value)
		}
		attrs = append(attrs, pvd.Attribute{Key: k.Value, Value: v.Value})
	}
	return attrs, nil
}

func parseTOML(data []byte) (Declaration, error) {
	var raw tomlDeclaration
	md, err := toml.Decode(string(data), &raw)
	if err != nil {
		return Declaration{}, fmt.Errorf("parsing toml: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Declaration{}, fmt.Errorf("parsing toml: unknown key %q", undecoded[0].String())
	}

	attrs := make([]pvd.Attribute, 0, len(raw.Attribute))
	for _, a := range raw.Attribute {
		attrs = append(attrs, pvd.Attribute{Key: a.Key, Value: a.Value})
	}
	addrs, err := parseAddrs(raw.Addresses)
	if err != nil {
		return Declaration{}, err
	}
	return Declaration{Identity: raw.ID, Attributes: attrs, Addresses: addrs}, nil
}

func parseAddrs(in []string) ([]netip.Addr, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]netip.Addr, 0, len(in))
	for _, s := range in {
		addr, err := netip.ParseAddr(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
		}
		out = append(out, addr)
	}
	return out, nil
}
