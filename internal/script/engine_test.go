package script

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_CompileTemplate(t *testing.T) {
	def, err := NewEngine().Compile(Template)
	require.NoError(t, err)

	assert.Equal(t, uint8(0x5C), def.PID)
	assert.Equal(t, "Engine oil temperature", def.Name)
	assert.Equal(t, "°C", def.Unit)
	assert.Equal(t, 1, def.Bytes)
	assert.InDelta(t, 50.0, def.Decode(90, 0, 0, 0), 1e-9)
}

func TestEngine_CompileTwoByteScript(t *testing.T) {
	code := `// PID: 0x43
// Name: Absolute load value
// Unit: %
// Bytes: 2
package dynamic

func Decode(a, b, c, d uint8) float64 {
	return (float64(a)*256 + float64(b)) * 100 / 255
}`
	def, err := NewEngine().Compile(code)
	require.NoError(t, err)
	assert.Equal(t, uint8(0x43), def.PID)
	assert.Equal(t, 2, def.Bytes)
	assert.InDelta(t, 100.0, def.Decode(0x00, 0xFF, 0, 0), 1e-9)
}

func TestEngine_CompileErrors(t *testing.T) {
	tests := []struct {
		name string
		code string
	}{
		{"no header", "package dynamic\nfunc Decode(a, b, c, d uint8) float64 { return 0 }"},
		{"bad pid", "// PID: zz\npackage dynamic\nfunc Decode(a, b, c, d uint8) float64 { return 0 }"},
		{"bad bytes", "// PID: 60\n// Bytes: 9\npackage dynamic\nfunc Decode(a, b, c, d uint8) float64 { return 0 }"},
		{"syntax error", "// PID: 60\npackage dynamic\nfunc Decode(a, b, c, d uint8) float64 { return }}"},
		{"missing decode", "// PID: 60\npackage dynamic\nfunc Other() {}"},
		{"wrong signature", "// PID: 60\npackage dynamic\nfunc Decode(a uint8) float64 { return 0 }"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEngine().Compile(tt.code)
			assert.Error(t, err)
		})
	}
}

func TestEngine_PanicBecomesNaN(t *testing.T) {
	code := `// PID: 61
package dynamic

func Decode(a, b, c, d uint8) float64 {
	if a > 2 {
		panic("sensor fault")
	}
	return float64(a)
}`
	def, err := NewEngine().Compile(code)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(def.Decode(3, 0, 0, 0)))
	assert.Equal(t, 1.0, def.Decode(1, 0, 0, 0))
	assert.Equal(t, "PID 61", def.Name)
}

func TestEngine_CompilesSeeds(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("..", "..", "seeds", "*.go"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, f := range files {
		t.Run(filepath.Base(f), func(t *testing.T) {
			code, err := os.ReadFile(f)
			require.NoError(t, err)
			_, err = NewEngine().Compile(string(code))
			assert.NoError(t, err)
		})
	}
}
