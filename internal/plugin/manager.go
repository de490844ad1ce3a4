package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"wa_command_bot/internal/domain"
	"wa_command_bot/internal/logging"
)

// ScriptExt is the extension of plugin source files.
const ScriptExt = ".go"

// Manager keeps the registry in sync with the plugins directory and the
// persisted catalog.
type Manager struct {
	dir             string
	registry        *Registry
	catalog         domain.PluginCatalog
	defaultCooldown time.Duration
	logger          *logrus.Entry
	now             func() time.Time

	mu        sync.Mutex
	overrides Overrides
}

// NewManager builds a Manager rooted at dir.
func NewManager(dir string, registry *Registry, catalog domain.PluginCatalog, defaultCooldown time.Duration, logger *logrus.Entry) (*Manager, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("plugins directory is required")
	}
	if registry == nil {
		return nil, errors.New("plugin registry is not initialized")
	}
	if catalog == nil {
		return nil, errors.New("plugin catalog is not initialized")
	}
	if logger == nil {
		logger = logging.Logger()
	}

	return &Manager{
		dir:             dir,
		registry:        registry,
		catalog:         catalog,
		defaultCooldown: defaultCooldown,
		logger:          logging.Component(logger, "plugins"),
		now:             time.Now,
	}, nil
}

// Registry returns the registry the manager populates.
func (m *Manager) Registry() *Registry { return m.registry }

// Dir returns the plugins root.
func (m *Manager) Dir() string { return m.dir }

// LoadAll creates the category directories and loads every script below
// them. A failing script is logged and skipped.
func (m *Manager) LoadAll(ctx context.Context) (int, []error) {
	if ctx == nil {
		return 0, []error{errors.New("context is required")}
	}

	var errs []error
	loaded := 0
	for _, category := range Categories {
		dir := filepath.Join(m.dir, category)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			errs = append(errs, fmt.Errorf("create plugin dir %s: %w", dir, err))
			continue
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			errs = append(errs, fmt.Errorf("read plugin dir %s: %w", dir, err))
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || !isScriptFile(entry.Name()) {
				continue
			}
			if _, err := m.Load(ctx, category, filepath.Join(dir, entry.Name())); err != nil {
				errs = append(errs, err)
				continue
			}
			loaded++
		}
	}

	m.logger.WithFields(logging.Fields{
		"event":  "plugins_loaded",
		"loaded": loaded,
		"failed": len(errs),
	}).Info("plugins loaded")
	return loaded, errs
}

// Load compiles the script at path and registers it, replacing any earlier
// descriptor of the same name.
func (m *Manager) Load(ctx context.Context, category, path string) (Descriptor, error) {
	return m.load(ctx, category, path, "")
}

func (m *Manager) load(ctx context.Context, category, path, installedBy string) (Descriptor, error) {
	if ctx == nil {
		return Descriptor{}, errors.New("context is required")
	}
	if !ValidCategory(category) {
		return Descriptor{}, newInvalidError(path, fmt.Sprintf("unknown category %q", category))
	}

	src, err := os.ReadFile(path)
	if err != nil {
		loadErr := newLoadError(path, err)
		m.logLoadFailure(path, loadErr)
		return Descriptor{}, loadErr
	}

	script, err := Compile(path, string(src))
	if err != nil {
		m.logLoadFailure(path, err)
		return Descriptor{}, err
	}
	for _, warning := range script.Warnings {
		m.logger.WithFields(logging.Fields{
			"event":   "plugin_warning",
			"plugin":  script.Name,
			"path":    path,
			"warning": warning,
		}).Warn("plugin contract warning")
	}

	if err := m.guardBuiltin(script.Name, "replaced"); err != nil {
		m.logLoadFailure(path, err)
		return Descriptor{}, err
	}

	cooldown := script.Cooldown
	if cooldown <= 0 {
		cooldown = m.defaultCooldown
	}

	d := Descriptor{
		Name:        script.Name,
		Category:    category,
		Description: script.Description,
		Usage:       script.Usage,
		Aliases:     script.Aliases,
		Permissions: script.Permissions,
		Cooldown:    cooldown,
		Enabled:     true,
		Handler:     script.Handler(),
		FilePath:    path,
		Hash:        Hash(src),
		LoadedAt:    m.now(),
	}.withBase()

	record, found, err := m.catalogRecord(ctx, d.Name)
	if err != nil {
		m.logger.WithError(err).WithFields(logging.Fields{
			"event":  "plugin_catalog_lookup_failed",
			"plugin": d.Name,
		}).Warn("plugin catalog lookup failed")
	}
	if found {
		d.Enabled = record.Enabled
		if installedBy == "" {
			installedBy = record.InstalledBy
		}
	}
	d = m.applyOverride(d)

	// A renamed file leaves its old name behind.
	if prev, ok := m.registry.FindByPath(path); ok && prev.Name != d.Name {
		m.registry.Remove(prev.Name)
	}
	if err := m.registry.Register(d); err != nil {
		m.logLoadFailure(path, err)
		return Descriptor{}, err
	}

	if err := m.catalog.UpsertPlugin(ctx, recordFor(d, installedBy)); err != nil {
		m.logger.WithError(err).WithFields(logging.Fields{
			"event":  "plugin_catalog_write_failed",
			"plugin": d.Name,
		}).Warn("plugin catalog write failed")
	}

	m.logger.WithFields(logging.Fields{
		"event":    "plugin_loaded",
		"plugin":   d.Name,
		"category": d.Category,
		"enabled":  d.Enabled,
		"path":     path,
	}).Info("plugin loaded")

	loaded, _ := m.registry.Lookup(d.Name)
	return loaded, nil
}

// Unload removes the descriptor loaded from path. The catalog row is kept so
// a returning file restores its enabled state.
func (m *Manager) Unload(path string) (string, bool) {
	d, ok := m.registry.FindByPath(path)
	if !ok {
		return "", false
	}
	m.registry.Remove(d.Name)
	m.logger.WithFields(logging.Fields{
		"event":  "plugin_unloaded",
		"plugin": d.Name,
		"path":   path,
	}).Info("plugin unloaded")
	return d.Name, true
}

// Reload re-reads the script backing name.
func (m *Manager) Reload(ctx context.Context, name string) (Descriptor, error) {
	d, ok := m.registry.Resolve(name)
	if !ok {
		return Descriptor{}, newNotFoundError(name)
	}
	if d.Builtin {
		return Descriptor{}, newProtectedError(d.Name, "reloaded")
	}
	return m.load(ctx, d.Category, d.FilePath, "")
}

// Toggle enables or disables name and persists the flag.
func (m *Manager) Toggle(ctx context.Context, name string, enabled bool) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	d, ok := m.registry.Resolve(name)
	if !ok {
		return newNotFoundError(name)
	}
	if !enabled && ProtectedFromDisable(d.Name) {
		return newProtectedError(d.Name, "disabled")
	}

	if err := m.registry.SetEnabled(d.Name, enabled); err != nil {
		return err
	}

	err := m.catalog.SetPluginEnabled(ctx, d.Name, enabled)
	if errors.Is(err, domain.ErrNotFound) {
		d.Enabled = enabled
		err = m.catalog.UpsertPlugin(ctx, recordFor(d, ""))
	}
	if err != nil {
		return fmt.Errorf("persist plugin state: %w", err)
	}

	m.logger.WithFields(logging.Fields{
		"event":   "plugin_toggled",
		"plugin":  d.Name,
		"enabled": enabled,
	}).Info("plugin toggled")
	return nil
}

// Uninstall removes name from the registry, the plugins directory and the
// catalog.
func (m *Manager) Uninstall(ctx context.Context, name string) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	d, ok := m.registry.Resolve(name)
	if !ok {
		return newNotFoundError(name)
	}
	if ProtectedFromUninstall(d.Name) || d.Builtin {
		return newProtectedError(d.Name, "uninstalled")
	}

	m.registry.Remove(d.Name)
	if d.FilePath != "" {
		if err := os.Remove(d.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove plugin file: %w", err)
		}
	}
	if err := m.catalog.DeletePlugin(ctx, d.Name); err != nil {
		return fmt.Errorf("delete plugin record: %w", err)
	}

	m.logger.WithFields(logging.Fields{
		"event":  "plugin_uninstalled",
		"plugin": d.Name,
	}).Info("plugin uninstalled")
	return nil
}

// InstallRequest is an uploaded plugin source.
type InstallRequest struct {
	Source      string
	Category    string
	InstalledBy string
	Overwrite   bool
}

// Install validates an uploaded script, writes it under its category and
// loads it.
func (m *Manager) Install(ctx context.Context, req InstallRequest) (Descriptor, error) {
	if ctx == nil {
		return Descriptor{}, errors.New("context is required")
	}
	if strings.TrimSpace(req.Source) == "" {
		return Descriptor{}, newInvalidError("", "empty source")
	}
	if err := CheckSource(req.Source); err != nil {
		m.logger.WithFields(logging.Fields{
			"event":        "plugin_rejected",
			"installed_by": req.InstalledBy,
		}).Warn("plugin source rejected")
		return Descriptor{}, err
	}

	script, err := Compile("upload", req.Source)
	if err != nil {
		return Descriptor{}, err
	}

	existing, exists := m.registry.Lookup(script.Name)
	if exists && existing.Builtin {
		return Descriptor{}, newProtectedError(script.Name, "replaced")
	}
	if exists && !req.Overwrite {
		return Descriptor{}, newExistsError(script.Name)
	}

	category := strings.ToLower(strings.TrimSpace(req.Category))
	if category == "" {
		category = InferCategory(script.Permissions, req.Source)
	}
	if !ValidCategory(category) {
		return Descriptor{}, newInvalidError("upload", fmt.Sprintf("unknown category %q", category))
	}

	path := filepath.Join(m.dir, category, script.Name+ScriptExt)
	if err := writeFileAtomic(path, []byte(req.Source)); err != nil {
		return Descriptor{}, fmt.Errorf("write plugin file: %w", err)
	}
	if exists && existing.FilePath != "" && existing.FilePath != path {
		if err := os.Remove(existing.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			m.logger.WithError(err).WithFields(logging.Fields{
				"event": "plugin_stale_file",
				"path":  existing.FilePath,
			}).Warn("failed to remove replaced plugin file")
		}
		m.registry.Remove(existing.Name)
	}

	d, err := m.load(ctx, category, path, req.InstalledBy)
	if err != nil {
		_ = os.Remove(path)
		return Descriptor{}, err
	}

	m.logger.WithFields(logging.Fields{
		"event":        "plugin_installed",
		"plugin":       d.Name,
		"category":     d.Category,
		"installed_by": req.InstalledBy,
	}).Info("plugin installed")
	return d, nil
}

// RegisterBuiltin registers a compiled-in command, honouring a persisted
// disabled flag.
func (m *Manager) RegisterBuiltin(ctx context.Context, d Descriptor) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if d.Handler == nil {
		return newInvalidError(d.Name, "handler is required")
	}
	if !ValidCategory(d.Category) {
		return newInvalidError(d.Name, fmt.Sprintf("unknown category %q", d.Category))
	}

	d.Builtin = true
	d.Enabled = true
	d.LoadedAt = m.now()
	if d.Cooldown <= 0 {
		d.Cooldown = m.defaultCooldown
	}
	d = d.withBase()

	record, found, err := m.catalogRecord(ctx, normalizeName(d.Name))
	if err != nil {
		return err
	}
	if found && !ProtectedFromDisable(normalizeName(d.Name)) {
		d.Enabled = record.Enabled
	}
	d = m.applyOverride(d)

	if err := m.registry.Register(d); err != nil {
		return err
	}
	if !found {
		registered, _ := m.registry.Lookup(d.Name)
		if err := m.catalog.UpsertPlugin(ctx, recordFor(registered, "")); err != nil {
			return fmt.Errorf("record builtin %s: %w", d.Name, err)
		}
	}
	return nil
}

func (m *Manager) guardBuiltin(name, action string) error {
	if d, ok := m.registry.Lookup(name); ok && d.Builtin {
		return newProtectedError(name, action)
	}
	return nil
}

func (m *Manager) catalogRecord(ctx context.Context, name string) (domain.PluginRecord, bool, error) {
	record, err := m.catalog.GetPlugin(ctx, name)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.PluginRecord{}, false, nil
	}
	if err != nil {
		return domain.PluginRecord{}, false, err
	}
	return record, true, nil
}

func (m *Manager) logLoadFailure(path string, err error) {
	m.logger.WithError(err).WithFields(logging.Fields{
		"event": "plugin_load_failed",
		"path":  path,
	}).Warn("plugin rejected")
}

type pluginMetadata struct {
	Description string   `json:"description"`
	Usage       string   `json:"usage,omitempty"`
	Aliases     []string `json:"aliases,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	CooldownMS  int64    `json:"cooldown_ms"`
	Builtin     bool     `json:"builtin,omitempty"`
}

func recordFor(d Descriptor, installedBy string) domain.PluginRecord {
	meta, _ := json.Marshal(pluginMetadata{
		Description: d.Description,
		Usage:       d.Usage,
		Aliases:     d.Aliases,
		Permissions: d.Permissions,
		CooldownMS:  d.Cooldown.Milliseconds(),
		Builtin:     d.Builtin,
	})
	return domain.PluginRecord{
		Name:        d.Name,
		Category:    d.Category,
		Enabled:     d.Enabled,
		FilePath:    d.FilePath,
		Hash:        d.Hash,
		Metadata:    string(meta),
		InstalledBy: installedBy,
	}
}

func isScriptFile(name string) bool {
	return strings.HasSuffix(name, ScriptExt) && !strings.HasSuffix(name, "_test.go") && !strings.HasPrefix(name, ".")
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
