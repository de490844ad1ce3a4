package plugin

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/agilira/argus"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"wa_command_bot/internal/domain"
	"wa_command_bot/internal/logging"
)

// Override replaces the declared cooldown and/or permissions of a command.
type Override struct {
	CooldownMS  *int     `yaml:"cooldown_ms"`
	Permissions []string `yaml:"permissions"`
}

// Overrides maps command names to operator overrides.
type Overrides map[string]Override

// ParseOverrides decodes and validates an overrides document.
func ParseOverrides(data []byte) (Overrides, error) {
	raw := Overrides{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse overrides: %w", err)
	}

	out := make(Overrides, len(raw))
	for name, o := range raw {
		key := normalizeName(name)
		if key == "" {
			continue
		}
		if o.CooldownMS != nil && *o.CooldownMS < 0 {
			return nil, fmt.Errorf("override %s: cooldown_ms must be >= 0", key)
		}
		for _, p := range o.Permissions {
			if !domain.ValidRole(p) {
				return nil, fmt.Errorf("override %s: unknown permission %q", key, p)
			}
		}
		out[key] = o
	}
	return out, nil
}

// LoadOverrides reads an overrides file. A missing file yields no overrides.
func LoadOverrides(path string) (Overrides, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Overrides{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read overrides: %w", err)
	}
	return ParseOverrides(data)
}

// ApplyOverrides replaces the active overrides and re-derives every
// registered descriptor from its declared values.
func (m *Manager) ApplyOverrides(o Overrides) int {
	m.mu.Lock()
	m.overrides = o
	m.mu.Unlock()

	applied := 0
	for _, d := range m.registry.All() {
		if _, ok := o[d.Name]; ok {
			applied++
		}
		_ = m.registry.Update(d.Name, func(next *Descriptor) {
			*next = m.applyOverride(*next)
		})
	}

	m.logger.WithFields(logging.Fields{
		"event":     "overrides_applied",
		"overrides": len(o),
		"matched":   applied,
	}).Info("command overrides applied")
	return applied
}

func (m *Manager) applyOverride(d Descriptor) Descriptor {
	d.Cooldown = d.baseCooldown
	d.Permissions = append([]string(nil), d.basePermissions...)

	m.mu.Lock()
	o, ok := m.overrides[normalizeName(d.Name)]
	m.mu.Unlock()
	if !ok {
		return d
	}
	if o.CooldownMS != nil {
		d.Cooldown = time.Duration(*o.CooldownMS) * time.Millisecond
	}
	if o.Permissions != nil {
		d.Permissions = append([]string(nil), o.Permissions...)
	}
	return d
}

// OverridesWatcher re-applies the overrides file whenever it changes.
type OverridesWatcher struct {
	path    string
	manager *Manager
	watcher *argus.Watcher
	logger  *logrus.Entry

	stopOnce sync.Once
}

// NewOverridesWatcher builds a poll-based watcher for path.
func NewOverridesWatcher(path string, manager *Manager, pollInterval time.Duration, logger *logrus.Entry) (*OverridesWatcher, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("overrides path is required")
	}
	if manager == nil {
		return nil, errors.New("plugin manager is not initialized")
	}
	if logger == nil {
		logger = logging.Logger()
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	logger = logging.Component(logger, "overrides")

	watcher := argus.New(argus.Config{
		PollInterval:         pollInterval,
		CacheTTL:             pollInterval / 2,
		MaxWatchedFiles:      1,
		OptimizationStrategy: argus.OptimizationSingleEvent,
		Audit:                argus.AuditConfig{Enabled: false},
		ErrorHandler: func(err error, file string) {
			logger.WithError(err).WithFields(logging.Fields{
				"event": "overrides_watch_error",
				"path":  file,
			}).Warn("overrides watch error")
		},
	})

	return &OverridesWatcher{path: path, manager: manager, watcher: watcher, logger: logger}, nil
}

// Start applies the current file and begins watching it.
func (w *OverridesWatcher) Start() error {
	if err := w.reload(); err != nil {
		return err
	}
	if err := w.watcher.Watch(w.path, w.handleChange); err != nil {
		return fmt.Errorf("watch overrides: %w", err)
	}
	if err := w.watcher.Start(); err != nil {
		return fmt.Errorf("start overrides watcher: %w", err)
	}
	return nil
}

// Stop ends watching. It is safe to call more than once.
func (w *OverridesWatcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		err = w.watcher.Stop()
	})
	return err
}

func (w *OverridesWatcher) handleChange(event argus.ChangeEvent) {
	if event.IsDelete {
		w.manager.ApplyOverrides(Overrides{})
		return
	}
	if err := w.reload(); err != nil {
		// Keep the previous overrides on a bad edit.
		w.logger.WithError(err).WithFields(logging.Fields{
			"event": "overrides_invalid",
			"path":  w.path,
		}).Warn("ignoring invalid overrides file")
	}
}

func (w *OverridesWatcher) reload() error {
	o, err := LoadOverrides(w.path)
	if err != nil {
		return err
	}
	w.manager.ApplyOverrides(o)
	return nil
}
