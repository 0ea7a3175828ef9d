// Package store persists paginated documents in a local SQLite database.
// Every save creates a new immutable version row, the document row always
// points at the latest one.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"repage/dom"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id              TEXT PRIMARY KEY,
	title           TEXT NOT NULL,
	html            TEXT NOT NULL,
	text            TEXT NOT NULL,
	pages           INTEGER NOT NULL,
	current_version INTEGER NOT NULL,
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS document_versions (
	id          TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id),
	version_no  INTEGER NOT NULL,
	html        TEXT NOT NULL,
	text        TEXT NOT NULL,
	pages       INTEGER NOT NULL,
	hash        TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	UNIQUE(document_id, version_no)
);
`

// Store is a document store bound to one SQLite database file.
// NOTE: presently not to be used concurrently!
type Store struct {
	conn *sqlite.Conn
	log  *zap.Logger
}

// Version describes one stored document version.
type Version struct {
	DocumentID string
	VersionNo  int
	Pages      int
	Hash       string
	CreatedAt  time.Time
}

func Open(path string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	conn, err := sqlite.OpenConn(path, sqlite.OpenReadWrite|sqlite.OpenCreate|sqlite.OpenWAL)
	if err != nil {
		return nil, fmt.Errorf("unable to open document store (%s): %w", path, err)
	}
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("unable to prepare document store schema: %w", err)
	}
	return &Store{conn: conn, log: log.Named("store")}, nil
}

func (s *Store) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("unable to close document store: %w", err)
	}
	return nil
}

// Save persists the document under the given stable id, creating a new
// version. When content is unchanged since the latest version no new version
// is written.
func (s *Store) Save(docID, title string, doc *dom.Document) (Version, error) {
	if docID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return Version{}, fmt.Errorf("unable to generate document id: %w", err)
		}
		docID = id.String()
	}
	if title == "" {
		title = "Untitled document"
	}

	html := doc.String()
	text := doc.PlainText()
	pages := doc.PageCount()

	sum := sha256.Sum256([]byte(html))
	hash := hex.EncodeToString(sum[:])
	now := time.Now().UTC().Format(time.RFC3339)

	endFn, err := sqlitex.ImmediateTransaction(s.conn)
	if err != nil {
		return Version{}, fmt.Errorf("unable to start store transaction: %w", err)
	}
	defer endFn(&err)

	var (
		currentVersion int
		currentHash    string
		exists         bool
	)
	err = sqlitex.Execute(s.conn,
		`SELECT d.current_version, v.hash FROM documents d
		 LEFT JOIN document_versions v ON v.document_id = d.id AND v.version_no = d.current_version
		 WHERE d.id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{docID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				exists = true
				currentVersion = int(stmt.ColumnInt64(0))
				currentHash = stmt.ColumnText(1)
				return nil
			},
		})
	if err != nil {
		return Version{}, fmt.Errorf("unable to look up document: %w", err)
	}

	if exists && currentHash == hash {
		s.log.Debug("Document unchanged, not creating version",
			zap.String("id", docID), zap.Int("version", currentVersion))
		return Version{DocumentID: docID, VersionNo: currentVersion, Pages: pages, Hash: hash}, nil
	}

	versionNo := currentVersion + 1
	versionID, err := uuid.NewV7()
	if err != nil {
		return Version{}, fmt.Errorf("unable to generate version id: %w", err)
	}

	err = sqlitex.Execute(s.conn,
		`INSERT INTO document_versions (id, document_id, version_no, html, text, pages, hash, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{versionID.String(), docID, versionNo, html, text, pages, hash, now}})
	if err != nil {
		return Version{}, fmt.Errorf("unable to store document version: %w", err)
	}

	if exists {
		err = sqlitex.Execute(s.conn,
			`UPDATE documents SET title = ?, html = ?, text = ?, pages = ?, current_version = ?, updated_at = ? WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{title, html, text, pages, versionNo, now, docID}})
	} else {
		err = sqlitex.Execute(s.conn,
			`INSERT INTO documents (id, title, html, text, pages, current_version, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{docID, title, html, text, pages, versionNo, now, now}})
	}
	if err != nil {
		return Version{}, fmt.Errorf("unable to store document: %w", err)
	}

	s.log.Info("Document stored",
		zap.String("id", docID), zap.Int("version", versionNo), zap.Int("pages", pages))
	return Version{DocumentID: docID, VersionNo: versionNo, Pages: pages, Hash: hash}, nil
}

// LoadHTML returns the html of the document's latest version.
func (s *Store) LoadHTML(docID string) (string, error) {
	var html string
	found := false
	err := sqlitex.Execute(s.conn,
		`SELECT html FROM documents WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{docID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				html = stmt.ColumnText(0)
				return nil
			},
		})
	if err != nil {
		return "", fmt.Errorf("unable to load document: %w", err)
	}
	if !found {
		return "", fmt.Errorf("document %s not found", docID)
	}
	return html, nil
}

// Versions lists stored versions of a document, newest first.
func (s *Store) Versions(docID string) ([]Version, error) {
	var versions []Version
	err := sqlitex.Execute(s.conn,
		`SELECT version_no, pages, hash, created_at FROM document_versions
		 WHERE document_id = ? ORDER BY version_no DESC`,
		&sqlitex.ExecOptions{
			Args: []any{docID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				v := Version{
					DocumentID: docID,
					VersionNo:  int(stmt.ColumnInt64(0)),
					Pages:      int(stmt.ColumnInt64(1)),
					Hash:       stmt.ColumnText(2),
				}
				if t, err := time.Parse(time.RFC3339, stmt.ColumnText(3)); err == nil {
					v.CreatedAt = t
				}
				versions = append(versions, v)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("unable to list document versions: %w", err)
	}
	return versions, nil
}
