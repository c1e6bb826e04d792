package provisioning

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/pvdd/internal/pvd"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFile_YAMLKeepsOrder(t *testing.T) {
	path := writeFile(t, t.TempDir(), "net-a.yaml", `
id: net-a.example.com
attributes:
  mtu: 1500
  dns-suffix: example.com
  captive-portal: ""
addresses:
  - "2001:db8::1"
  - "192.0.2.1"
`)

	decl, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, "net-a.example.com", decl.Identity)
	require.Equal(t, []pvd.Attribute{
		{Key: "mtu", Value: "1500"},
		{Key: "dns-suffix", Value: "example.com"},
		{Key: "captive-portal", Value: ""},
	}, decl.Attributes)
	require.Equal(t, []netip.Addr{
		netip.MustParseAddr("2001:db8::1"),
		netip.MustParseAddr("192.0.2.1"),
	}, decl.Addresses)
	require.Equal(t, FileSource(path), decl.Source)
	require.True(t, IsFileSource(decl.Source))
}

func TestLoadFile_TOML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "net-b.toml", `
id = "net-b.example.com"
addresses = ["2001:db8::2"]

[[attribute]]
key = "dns-suffix"
value = "b.example.com"

[[attribute]]
key = "mtu"
value = "1280"
`)

	decl, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, "net-b.example.com", decl.Identity)
	require.Equal(t, []pvd.Attribute{
		{Key: "dns-suffix", Value: "b.example.com"},
		{Key: "mtu", Value: "1280"},
	}, decl.Attributes)
	require.Len(t, decl.Addresses, 1)
}

func TestLoadFile_Errors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		file    string
		content string
		errIs   error
		errText string
	}{
		{"unknown yaml field", "a.yaml", "id: a.example.\nbogus: 1\n", nil, "bogus"},
		{"unknown toml key", "b.toml", "id = \"b.example.\"\nbogus = 1\n", nil, "unknown key"},
		{"nested attribute value", "c.yaml", "id: c.example.\nattributes:\n  k:\n    nested: v\n", nil, "scalar value"},
		{"attributes not a mapping", "d.yml", "id: d.example.\nattributes: [a, b]\n", nil, "must be a mapping"},
		{"bad address", "e.yaml", "id: e.example.\naddresses: [not-an-ip]\n", ErrInvalidAddress, ""},
		{"missing id", "f.yaml", "attributes:\n  k: v\n", ErrInvalidIdentity, ""},
		{"duplicate toml attribute", "g.toml", "id = \"g.example.\"\n[[attribute]]\nkey = \"k\"\nvalue = \"1\"\n[[attribute]]\nkey = \"k\"\nvalue = \"2\"\n", ErrDuplicateAttribute, ""},
		{"empty key", "h.toml", "id = \"h.example.\"\n[[attribute]]\nkey = \"\"\nvalue = \"1\"\n", pvd.ErrInvalidKey, ""},
		{"unsupported extension", "i.json", "{}", ErrUnsupportedFormat, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, tt.file, tt.content)
			_, err := LoadFile(path)
			require.Error(t, err)
			if tt.errIs != nil {
				require.ErrorIs(t, err, tt.errIs)
			}
			if tt.errText != "" {
				require.ErrorContains(t, err, tt.errText)
			}
			require.ErrorContains(t, err, path)
		})
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.yaml", "id: b.example.\n")
	writeFile(t, dir, "a.toml", "id = \"a.example.\"\n")
	writeFile(t, dir, "README.md", "not a declaration")
	writeFile(t, dir, ".a.yaml.swp", "garbage")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.yaml"), 0o700))

	decls, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, decls, 2)
	require.Equal(t, "a.example.", decls[0].Identity)
	require.Equal(t, "b.example.", decls[1].Identity)
}

func TestLoadDir_ReportsAllErrorsAndKeepsGoodFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "1-good.yaml", "id: good.example.\n")
	writeFile(t, dir, "2-bad.yaml", "id: [\n")
	writeFile(t, dir, "3-dup.yaml", "id: GOOD.example\n")

	decls, err := LoadDir(dir)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrDuplicateIdentity)
	require.ErrorContains(t, err, "2-bad.yaml")
	require.Len(t, decls, 1)
	require.Equal(t, "good.example.", decls[0].Identity)
}

func TestLoadDir_Missing(t *testing.T) {
	decls, err := LoadDir(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	require.Empty(t, decls)
}

func TestIsDeclarationFile(t *testing.T) {
	require.True(t, IsDeclarationFile("/etc/pvdd/pvds/net.yaml"))
	require.True(t, IsDeclarationFile("net.YML"))
	require.True(t, IsDeclarationFile("net.toml"))
	require.False(t, IsDeclarationFile("net.json"))
	require.False(t, IsDeclarationFile(".net.yaml"))
	require.False(t, IsDeclarationFile("net.yaml~"))
}
