package sourcefile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Azhovan/refconf"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookup(t *testing.T, v refconf.Value, path string) any {
	t.Helper()
	got, ok := v.Lookup(path)
	require.True(t, ok, "missing %s in %s", path, v)
	return got.Native()
}

func TestFileSource_Load_YAML(t *testing.T) {
	tmpDir := t.TempDir()
	yamlFile := filepath.Join(tmpDir, "config.yaml")
	yamlContent := `
database:
  host: localhost
  port: 5432
  credentials:
    user: admin
    password: secret
server:
  address: 0.0.0.0
  timeout: 30
features:
  - feature1
  - feature2
`
	require.NoError(t, os.WriteFile(yamlFile, []byte(yamlContent), 0644))

	src := New(yamlFile, Options{})
	data, err := src.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "localhost", lookup(t, data, "database.host"))
	assert.Equal(t, int64(5432), lookup(t, data, "database.port"))
	assert.Equal(t, "admin", lookup(t, data, "database.credentials.user"))
	assert.Equal(t, "0.0.0.0", lookup(t, data, "server.address"))
	assert.Equal(t, []any{"feature1", "feature2"}, lookup(t, data, "features"))
	assert.Equal(t, []string{"database", "server", "features"}, data.Keys())
}

func TestFileSource_Load_ResolvesReferences(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(tmpDir, "secrets"), 0755))
	files := map[string]string{
		"config.json":      `{"db": "$FILE db.yml", "tls": {"cert": "$FILE secrets/cert.pem"}}`,
		"db.yml":           "host: db.internal\npassword: $FILE secrets/db.json\n",
		"secrets/db.json":  `"hunter2"`,
		"secrets/cert.pem": "-----BEGIN CERTIFICATE-----",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(tmpDir, name), []byte(content), 0644))
	}

	src := New(filepath.Join(tmpDir, "config.json"), Options{})
	data, err := src.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "db.internal", lookup(t, data, "db.host"))
	assert.Equal(t, "hunter2", lookup(t, data, "db.password"))
	assert.Equal(t, []byte("-----BEGIN CERTIFICATE-----"), lookup(t, data, "tls.cert"))

	fileSrc, ok := src.(*fileSource)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{
		filepath.Join(tmpDir, "config.json"),
		filepath.Join(tmpDir, "db.yml"),
		filepath.Join(tmpDir, "secrets", "db.json"),
		filepath.Join(tmpDir, "secrets", "cert.pem"),
	}, fileSrc.Files())
}

func TestFileSource_MemMapFs(t *testing.T) {
	memFs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(memFs, "/etc/app/config.yml", []byte("db: $FILE db.toml\n"), 0644))
	require.NoError(t, afero.WriteFile(memFs, "/etc/app/db.toml", []byte("port = 5432\n"), 0644))

	src := New("/etc/app/config.yml", Options{Fs: memFs, ExtendedFormats: true})
	data, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5432), lookup(t, data, "db.port"))

	_, err = src.Watch(context.Background())
	assert.ErrorIs(t, err, refconf.ErrWatchNotSupported)
}

func TestFileSource_CustomMarker(t *testing.T) {
	memFs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(memFs, "/cfg/app.yml", []byte("db: \"@include db.yml\"\nraw: $FILE db.yml\n"), 0644))
	require.NoError(t, afero.WriteFile(memFs, "/cfg/db.yml", []byte("host: h\n"), 0644))

	src := New("/cfg/app.yml", Options{Fs: memFs, Marker: "@include "})
	data, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "h", lookup(t, data, "db.host"))
	assert.Equal(t, "$FILE db.yml", lookup(t, data, "raw"))
}

func TestFileSource_MissingFile_NotRequired(t *testing.T) {
	src := New("/nonexistent/config.yaml", Options{Required: false, Fs: afero.NewMemMapFs()})
	data, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, refconf.KindMapping, data.Kind())
	assert.Equal(t, 0, data.Len())
}

func TestFileSource_MissingFile_Required(t *testing.T) {
	src := New("/nonexistent/config.yaml", Options{Required: true, Fs: afero.NewMemMapFs()})
	_, err := src.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required config file not found")
}

func TestFileSource_MissingReference(t *testing.T) {
	memFs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(memFs, "/cfg/app.yml", []byte("db: $FILE gone.yml\nname: app\n"), 0644))
	diags := &refconf.DiagnosticCollector{}

	src := New("/cfg/app.yml", Options{Fs: memFs, Diagnostics: diags})
	data, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, lookup(t, data, "db"))
	assert.Equal(t, "app", lookup(t, data, "name"))
	require.Len(t, diags.Diagnostics, 1)
	assert.Equal(t, refconf.CodeMissingFile, diags.Diagnostics[0].Code)

	strict := New("/cfg/app.yml", Options{Fs: memFs, Strict: true, Diagnostics: diags})
	_, err = strict.Load(context.Background())
	var missing *refconf.MissingFileError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "/cfg/gone.yml", missing.Path)
}

func TestFileSource_InvalidTopLevelFile(t *testing.T) {
	memFs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(memFs, "/cfg/bad.json", []byte(`{"key":`), 0644))
	diags := &refconf.DiagnosticCollector{}

	data, err := New("/cfg/bad.json", Options{Fs: memFs, Diagnostics: diags}).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, data.Len())
	require.Len(t, diags.Diagnostics, 1)
	assert.Equal(t, refconf.CodeMalformedDocument, diags.Diagnostics[0].Code)

	_, err = New("/cfg/bad.json", Options{Fs: memFs, Strict: true}).Load(context.Background())
	var malformed *refconf.MalformedDocumentError
	require.ErrorAs(t, err, &malformed)
}

func TestFileSource_Cycle(t *testing.T) {
	memFs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(memFs, "/cfg/a.yml", []byte("b: $FILE b.yml\n"), 0644))
	require.NoError(t, afero.WriteFile(memFs, "/cfg/b.yml", []byte("a: $FILE a.yml\n"), 0644))

	_, err := New("/cfg/a.yml", Options{Fs: memFs}).Load(context.Background())
	var cycle *refconf.ReferenceCycleError
	require.ErrorAs(t, err, &cycle)
}

func TestFileSource_Modules(t *testing.T) {
	memFs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(memFs, "/cfg/app.yml", []byte("hooks: $FILE hooks.js\n"), 0644))
	require.NoError(t, afero.WriteFile(memFs, "/cfg/hooks.js", []byte("module.exports = {retries: 3}"), 0644))

	evaluator := refconf.ModuleEvaluatorFunc(func(ctx context.Context, path string) (any, error) {
		return map[string]any{"retries": 3}, nil
	})
	data, err := New("/cfg/app.yml", Options{Fs: memFs, Evaluator: evaluator}).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), lookup(t, data, "hooks.retries"))
}

func TestFileSource_Watch(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yml")
	dbFile := filepath.Join(tmpDir, "db.yml")
	require.NoError(t, os.WriteFile(configFile, []byte("db: $FILE db.yml\n"), 0644))
	require.NoError(t, os.WriteFile(dbFile, []byte("host: a\n"), 0644))

	src := New(configFile, Options{})
	_, err := src.Load(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := src.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "unrelated.txt"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(dbFile, []byte("host: b\n"), 0644))

	select {
	case event := <-events:
		assert.Equal(t, "file-changed:"+dbFile, event.Cause)
		assert.False(t, event.At.IsZero())
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for change event")
	}

	cancel()
	for range events {
	}
}

func TestFileSource_LoaderKeepsOwnMarker(t *testing.T) {
	memFs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(memFs, "/cfg/app.yml", []byte("greeting: \"$FILE is a literal here\"\nsub: \"@ sub.yml\"\n"), 0644))
	require.NoError(t, afero.WriteFile(memFs, "/cfg/sub.yml", []byte("x: 1\n"), 0644))
	diags := &refconf.DiagnosticCollector{}

	loader := refconf.NewLoader().
		WithResolver(refconf.NewResolver(refconf.WithFs(memFs), refconf.WithDiagnostics(diags))).
		WithBaseDir("/cfg").
		WithSource(New("/cfg/app.yml", Options{Fs: memFs, Marker: "@ ", Diagnostics: diags}))

	data, err := loader.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "$FILE is a literal here", lookup(t, data, "greeting"))
	assert.Equal(t, int64(1), lookup(t, data, "sub.x"))
	assert.Empty(t, diags.Diagnostics)
}

// waitForChange rewrites path until events reports a change to it.
func waitForChange(t *testing.T, events <-chan refconf.ChangeEvent, path, content string) {
	t.Helper()
	require.Eventually(t, func() bool {
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			return false
		}
		timeout := time.After(100 * time.Millisecond)
		for {
			select {
			case event := <-events:
				if event.Cause == "file-changed:"+path {
					return true
				}
			case <-timeout:
				return false
			}
		}
	}, 5*time.Second, 10*time.Millisecond)
}

func TestFileSource_WatchMissingReference(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yml")
	cacheFile := filepath.Join(tmpDir, "cache.yml")
	require.NoError(t, os.WriteFile(configFile, []byte("cache: $FILE cache.yml\n"), 0644))

	src := New(configFile, Options{Diagnostics: &refconf.DiagnosticCollector{}})
	_, err := src.Load(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := src.Watch(ctx)
	require.NoError(t, err)

	waitForChange(t, events, cacheFile, "size: 10\n")

	cancel()
	for range events {
	}
}

func TestFileSource_WatchFollowsReload(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yml")
	extraDir := filepath.Join(tmpDir, "extra")
	dbFile := filepath.Join(extraDir, "db.yml")
	require.NoError(t, os.WriteFile(configFile, []byte("name: app\n"), 0644))
	require.NoError(t, os.Mkdir(extraDir, 0755))
	require.NoError(t, os.WriteFile(dbFile, []byte("host: a\n"), 0644))

	src := New(configFile, Options{})
	_, err := src.Load(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := src.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(configFile, []byte("name: app\ndb: $FILE extra/db.yml\n"), 0644))
	data, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", lookup(t, data, "db.host"))

	waitForChange(t, events, dbFile, "host: b\n")

	cancel()
	for range events {
	}
}

func TestFileSource_Name(t *testing.T) {
	src := New("/path/to/config.yaml", Options{})
	assert.Equal(t, "file:config.yaml", src.Name())
}
