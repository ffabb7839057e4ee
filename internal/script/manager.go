package script

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/chuanjin/obdbridge/internal/obd"
	"go.uber.org/zap"
)

// Manager loads PID scripts from a directory and keeps the compiled
// definitions and their sources.
type Manager struct {
	engine *Engine
	dir    string
	log    *zap.Logger

	mu      sync.RWMutex
	defs    map[uint8]obd.PIDDefinition
	sources map[uint8]string // PID -> file name
}

func NewManager(dir string, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		engine:  NewEngine(),
		dir:     dir,
		log:     log,
		defs:    make(map[uint8]obd.PIDDefinition),
		sources: make(map[uint8]string),
	}
}

// LoadDir compiles every .go file in the directory. Files that fail to
// compile are logged and skipped. It returns the number of scripts loaded;
// a missing directory loads nothing.
func (m *Manager) LoadDir() (int, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			m.log.Debug("Script directory not found", zap.String("dir", m.dir))
			return 0, nil
		}
		return 0, err
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".go" || strings.HasSuffix(entry.Name(), "_test.go") {
			continue
		}
		path := filepath.Join(m.dir, entry.Name())
		content, err := os.ReadFile(path)
		if err != nil {
			m.log.Warn("Failed to read script", zap.String("file", path), zap.Error(err))
			continue
		}
		if err := m.Register(entry.Name(), string(content)); err != nil {
			m.log.Warn("Skipping script", zap.String("file", path), zap.Error(err))
			continue
		}
		loaded++
	}
	return loaded, nil
}

// Register compiles code and stores its definition under name. A later
// script for the same PID replaces the earlier one.
func (m *Manager) Register(name, code string) error {
	def, err := m.engine.Compile(code)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.sources[def.PID]; ok && prev != name {
		m.log.Warn("Script overrides earlier script", zap.String("pid", pidHex(def.PID)), zap.String("previous", prev), zap.String("file", name))
	}
	m.defs[def.PID] = def
	m.sources[def.PID] = name
	m.log.Info("Loaded PID script", zap.String("pid", pidHex(def.PID)), zap.String("name", def.Name), zap.String("file", name))
	return nil
}

// Definitions returns the compiled definitions ordered by PID.
func (m *Manager) Definitions() []obd.PIDDefinition {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]obd.PIDDefinition, 0, len(m.defs))
	for _, d := range m.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}

// Source returns the file a PID was loaded from.
func (m *Manager) Source(pid uint8) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	name, ok := m.sources[pid]
	return name, ok
}

// Overlay returns base extended with the loaded scripts. Scripts for PIDs
// base already knows are logged and ignored.
func (m *Manager) Overlay(base *obd.Registry) *obd.Registry {
	reg, rejected := base.With(m.Definitions()...)
	for _, d := range rejected {
		src, _ := m.Source(d.PID)
		m.log.Warn("Script PID shadows a built-in, ignoring", zap.String("pid", pidHex(d.PID)), zap.String("file", src))
	}
	return reg
}

func pidHex(pid uint8) string {
	return fmt.Sprintf("%02X", pid)
}
