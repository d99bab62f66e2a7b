//go:build !sqlite_fts5

package index

import (
	"database/sql"
	"fmt"
	"strings"
)

func initFTS(_ *sql.DB) error {
	// FTS5 not compiled in; Search scans documents.body with LIKE.
	return nil
}

func ftsUpsert(_ *sql.Tx, _, _, _ string, _ []string) error { return nil }

func ftsDelete(_ *sql.Tx, _ string) error { return nil }

// Search ranks documents by how many query terms appear in their title, body
// or tags.
func (db *DB) Search(query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	terms := searchTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}

	scores := make([]string, 0, len(terms))
	args := make([]any, 0, len(terms)*3+1)
	for _, term := range terms {
		scores = append(scores, "(CASE WHEN title LIKE ? OR body LIKE ? OR tags LIKE ? THEN 1 ELSE 0 END)")
		like := "%" + term + "%"
		args = append(args, like, like, like)
	}
	args = append(args, limit)

	q := fmt.Sprintf(`
		SELECT path, title, substr(body, 1, 200), score FROM (
			SELECT path, title, body, %s AS score FROM documents
		)
		WHERE score > 0
		ORDER BY score DESC, path
		LIMIT ?
	`, strings.Join(scores, " + "))

	rows, err := db.conn.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var (
			r     SearchResult
			score int
		)
		if err := rows.Scan(&r.Path, &r.Title, &r.Snippet, &score); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
