package script

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/chuanjin/obdbridge/internal/obd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func writeScript(t *testing.T, dir, name, code string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(code), 0o644))
}

func TestManager_LoadDir(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "oil.go", Template)
	writeScript(t, dir, "broken.go", "// PID: 70\npackage dynamic\nfunc Decode(")
	writeScript(t, dir, "notes.txt", "ignored")

	core, logs := observer.New(zap.WarnLevel)
	m := NewManager(dir, zap.New(core))

	n, err := m.LoadDir()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	defs := m.Definitions()
	require.Len(t, defs, 1)
	assert.Equal(t, uint8(0x5C), defs[0].PID)

	src, ok := m.Source(0x5C)
	assert.True(t, ok)
	assert.Equal(t, "oil.go", src)

	assert.Equal(t, 1, logs.FilterMessage("Skipping script").Len())
}

func TestManager_MissingDir(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "nope"), nil)
	n, err := m.LoadDir()
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, m.Definitions())
}

func TestManager_OverlayKeepsBuiltins(t *testing.T) {
	m := NewManager("", nil)
	require.NoError(t, m.Register("oil.go", Template))
	require.NoError(t, m.Register("rpm.go", `// PID: 0C
// Name: Fake engine speed
package dynamic

func Decode(a, b, c, d uint8) float64 { return 1 }`))

	reg := m.Overlay(obd.DefaultRegistry())

	rpm, ok := reg.Lookup(0x0C)
	require.True(t, ok)
	assert.Equal(t, "Engine speed", rpm.Name)

	oil, ok := reg.Lookup(0x5C)
	require.True(t, ok)
	assert.Equal(t, "Engine oil temperature", oil.Name)
	assert.Equal(t, obd.DefaultRegistry().Len()+1, reg.Len())
}
