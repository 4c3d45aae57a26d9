package environ

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"shardrun/internal/config"
	"shardrun/pkg/logging"
)

// reusableTemplateName is the stable template identifier when reuse is on;
// without reuse, templates are session-scoped and dropped with the session.
const reusableTemplateName = "shardrun_template"

// templateMarker records a reusable template so later sessions can find it
// and judge its age.
type templateMarker struct {
	TemplateID string    `json:"template_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// Manager prepares and tears down the isolated runtime environment each
// shard executes against. It is the only component that creates or drops
// databases on the shared server.
type Manager struct {
	db        DB
	sourceDB  string
	filestore config.FilestoreConfig
	template  config.TemplateConfig
	now       func() time.Time
}

// NewManager creates an environment lifecycle manager.
func NewManager(db DB, dbCfg config.DatabaseConfig, fsCfg config.FilestoreConfig, tmplCfg config.TemplateConfig) *Manager {
	return &Manager{
		db:        db,
		sourceDB:  dbCfg.SourceDB,
		filestore: fsCfg,
		template:  tmplCfg,
		now:       time.Now,
	}
}

// markerPath is where the reusable-template record lives.
func (m *Manager) markerPath() string {
	return filepath.Join(m.filestore.WorkDir, "template.json")
}

// templateFilestore is the filestore snapshot belonging to a template.
func (m *Manager) templateFilestore(templateID string) string {
	return filepath.Join(m.filestore.WorkDir, templateID)
}

// shardFilestore is the filestore directory for one shard database.
func (m *Manager) shardFilestore(shardDB string) string {
	return filepath.Join(m.filestore.WorkDir, shardDB)
}

// EnsureTemplate returns a template database id for this session, reusing a
// prior template when reuse is enabled and the recorded one is inside its
// TTL, otherwise cloning a fresh one from the production-like source.
func (m *Manager) EnsureTemplate(ctx context.Context, sessionID string) (string, error) {
	if m.template.Reuse {
		if id, ok := m.validReusableTemplate(ctx); ok {
			logging.Info("environ", "Reusing template %s", id)
			return id, nil
		}
	}

	templateID := reusableTemplateName
	if !m.template.Reuse {
		templateID = fmt.Sprintf("shardrun_%s_tmpl", sessionID)
	}

	// A stale template under the same name blocks CREATE DATABASE.
	if err := m.dropDatabase(ctx, templateID); err != nil {
		return "", err
	}

	if err := m.terminateBackends(ctx, m.sourceDB); err != nil {
		logging.Warn("environ", "Could not terminate backends on %s: %v", m.sourceDB, err)
	}
	sql := fmt.Sprintf("CREATE DATABASE %s TEMPLATE %s", quoteIdent(templateID), quoteIdent(m.sourceDB))
	if _, err := m.db.Exec(ctx, sql); err != nil {
		return "", fmt.Errorf("failed to clone template from %s: %w", m.sourceDB, err)
	}

	if !m.filestore.Skip {
		if err := os.MkdirAll(m.filestore.WorkDir, 0755); err != nil {
			return "", err
		}
		if err := cloneTree(m.filestore.SourceDir, m.templateFilestore(templateID)); err != nil {
			return "", fmt.Errorf("failed to snapshot filestore: %w", err)
		}
	}

	if m.template.Reuse {
		m.writeMarker(templateMarker{TemplateID: templateID, CreatedAt: m.now()})
	}

	logging.Info("environ", "Template %s ready", templateID)
	return templateID, nil
}

// validReusableTemplate checks the marker file and the template's actual
// presence on the server.
func (m *Manager) validReusableTemplate(ctx context.Context) (string, bool) {
	data, err := os.ReadFile(m.markerPath())
	if err != nil {
		return "", false
	}
	var marker templateMarker
	if err := json.Unmarshal(data, &marker); err != nil {
		logging.Warn("environ", "Corrupt template marker, recloning: %v", err)
		return "", false
	}
	if m.template.TTL > 0 && m.now().Sub(marker.CreatedAt) > m.template.TTL {
		logging.Info("environ", "Template %s expired (age %v)", marker.TemplateID, m.now().Sub(marker.CreatedAt))
		return "", false
	}
	var exists bool
	err = m.db.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)", marker.TemplateID).Scan(&exists)
	if err != nil || !exists {
		return "", false
	}
	return marker.TemplateID, true
}

func (m *Manager) writeMarker(marker templateMarker) {
	data, err := json.MarshalIndent(marker, "", "  ")
	if err == nil {
		err = os.WriteFile(m.markerPath(), data, 0644)
	}
	if err != nil {
		logging.Warn("environ", "Could not record template marker: %v", err)
	}
}

// CloneForShard produces an isolated database plus filestore for one shard
// from the session template.
func (m *Manager) CloneForShard(ctx context.Context, templateID, shardDB string) error {
	// Template instantiation fails while anything is connected to it.
	if err := m.terminateBackends(ctx, templateID); err != nil {
		logging.Warn("environ", "Could not terminate backends on %s: %v", templateID, err)
	}
	sql := fmt.Sprintf("CREATE DATABASE %s TEMPLATE %s", quoteIdent(shardDB), quoteIdent(templateID))
	if _, err := m.db.Exec(ctx, sql); err != nil {
		return fmt.Errorf("failed to clone %s for shard: %w", shardDB, err)
	}

	if m.filestore.Skip {
		return nil
	}
	src := m.templateFilestore(templateID)
	if _, err := os.Stat(src); errors.Is(err, os.ErrNotExist) {
		// Template predates this session and was created with filestore
		// snapshots skipped.
		logging.Debug("environ", "No template filestore at %s, skipping clone", src)
		return nil
	}
	if err := cloneTree(src, m.shardFilestore(shardDB)); err != nil {
		return fmt.Errorf("failed to clone filestore for %s: %w", shardDB, err)
	}
	return nil
}

// CleanupSession drops every database and removes every filestore directory
// matching the session's naming convention. Best-effort throughout: failures
// are logged, never returned as fatal. Invoked both before a session starts
// (orphans from a prior aborted run) and unconditionally after it ends.
func (m *Manager) CleanupSession(ctx context.Context, rootName string) {
	rows, err := m.db.Query(ctx, "SELECT datname FROM pg_database WHERE datname LIKE $1", rootName+"%")
	if err != nil {
		logging.Warn("environ", "Could not list session databases: %v", err)
	} else {
		var names []string
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				logging.Warn("environ", "Could not scan database name: %v", err)
				continue
			}
			names = append(names, name)
		}
		if err := rows.Err(); err != nil {
			logging.Warn("environ", "Database listing ended early, dropping what was seen: %v", err)
		}
		rows.Close()
		for _, name := range names {
			if err := m.dropDatabase(ctx, name); err != nil {
				logging.Warn("environ", "Could not drop %s: %v", name, err)
			}
		}
	}

	matches, err := filepath.Glob(filepath.Join(m.filestore.WorkDir, rootName+"*"))
	if err == nil {
		for _, dir := range matches {
			if err := os.RemoveAll(dir); err != nil {
				logging.Warn("environ", "Could not remove filestore %s: %v", dir, err)
			}
		}
	}
	logging.Info("environ", "Cleanup for %s complete", rootName)
}

// DropTemplate removes a session-scoped template and its filestore. Reusable
// templates are left for the next session.
func (m *Manager) DropTemplate(ctx context.Context, templateID string) {
	if m.template.Reuse && templateID == reusableTemplateName {
		return
	}
	if err := m.dropDatabase(ctx, templateID); err != nil {
		logging.Warn("environ", "Could not drop template %s: %v", templateID, err)
	}
	if err := os.RemoveAll(m.templateFilestore(templateID)); err != nil {
		logging.Warn("environ", "Could not remove template filestore: %v", err)
	}
}

// terminateBackends kicks every connection off a database so it can be used
// as a template or dropped without "database is in use" failures.
func (m *Manager) terminateBackends(ctx context.Context, dbName string) error {
	_, err := m.db.Exec(ctx,
		"SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = $1 AND pid <> pg_backend_pid()",
		dbName)
	return err
}

func (m *Manager) dropDatabase(ctx context.Context, dbName string) error {
	if err := m.terminateBackends(ctx, dbName); err != nil {
		logging.Warn("environ", "Could not terminate backends on %s: %v", dbName, err)
	}
	_, err := m.db.Exec(ctx, fmt.Sprintf("DROP DATABASE IF EXISTS %s", quoteIdent(dbName)))
	return err
}
