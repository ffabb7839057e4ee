// Package script loads extra service 01 PID decoders written as Go source
// and interpreted at runtime with yaegi.
package script

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/chuanjin/obdbridge/internal/obd"
	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// DecodeFunc is the signature every script must export as dynamic.Decode.
type DecodeFunc = func(a, b, c, d uint8) float64

var (
	ErrNoHeader     = errors.New("script: missing PID header")
	ErrBadSignature = errors.New("script: dynamic.Decode has wrong signature")
)

// Template is the skeleton of a PID script.
const Template = `//go:build ignore

// PID: 5C
// Name: Engine oil temperature
// Unit: °C
// Bytes: 1
package dynamic

func Decode(a, b, c, d uint8) float64 {
	return float64(a) - 40
}
`

// Engine compiles PID scripts. Each script runs in its own interpreter so
// scripts cannot see or redefine each other's symbols.
type Engine struct{}

func NewEngine() *Engine {
	return &Engine{}
}

// Compile interprets code and returns the PID it defines. The header
// comments give the PID code and metadata; the body must declare
// package dynamic with a Decode function.
func (e *Engine) Compile(code string) (obd.PIDDefinition, error) {
	def, err := parseHeader(code)
	if err != nil {
		return obd.PIDDefinition{}, err
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return obd.PIDDefinition{}, fmt.Errorf("script: loading stdlib: %w", err)
	}
	if _, err := i.Eval(sanitize(code)); err != nil {
		return obd.PIDDefinition{}, fmt.Errorf("script: compile error: %w", err)
	}

	v, err := i.Eval("dynamic.Decode")
	if err != nil {
		return obd.PIDDefinition{}, fmt.Errorf("script: could not find Decode function: %w", err)
	}
	fn, ok := v.Interface().(DecodeFunc)
	if !ok {
		return obd.PIDDefinition{}, ErrBadSignature
	}

	def.Decode = guard(fn)
	return def, nil
}

// guard turns a panicking script into a NaN reading.
func guard(fn DecodeFunc) DecodeFunc {
	return func(a, b, c, d uint8) (v float64) {
		defer func() {
			if r := recover(); r != nil {
				v = math.NaN()
			}
		}()
		return fn(a, b, c, d)
	}
}

// parseHeader reads the "// Key: value" lines that precede the package
// clause.
func parseHeader(code string) (obd.PIDDefinition, error) {
	def := obd.PIDDefinition{Bytes: 1}
	seenPID := false

	sc := bufio.NewScanner(strings.NewReader(code))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "package ") {
			break
		}
		key, val, ok := strings.Cut(strings.TrimPrefix(line, "//"), ":")
		if !ok || !strings.HasPrefix(line, "//") {
			continue
		}
		val = strings.TrimSpace(val)

		switch strings.ToLower(strings.TrimSpace(key)) {
		case "pid":
			n, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(val), "0x"), 16, 8)
			if err != nil {
				return def, fmt.Errorf("script: invalid PID %q: %w", val, err)
			}
			def.PID = uint8(n)
			seenPID = true
		case "name":
			def.Name = val
		case "unit":
			def.Unit = val
		case "bytes":
			n, err := strconv.Atoi(val)
			if err != nil || n < 1 || n > 4 {
				return def, fmt.Errorf("script: invalid Bytes %q: want 1-4", val)
			}
			def.Bytes = n
		}
	}

	if !seenPID {
		return def, ErrNoHeader
	}
	if def.Name == "" {
		def.Name = fmt.Sprintf("PID %02X", def.PID)
	}
	return def, nil
}

// sanitize drops build constraints so scripts kept out of the module build
// still evaluate.
func sanitize(code string) string {
	var b strings.Builder
	for _, line := range strings.Split(code, "\n") {
		t := strings.TrimSpace(line)
		if strings.HasPrefix(t, "//go:build") || strings.HasPrefix(t, "// +build") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}
