package index

import (
	"log/slog"

	"github.com/starford/rulekeeper/internal/checksum"
	"github.com/starford/rulekeeper/internal/models"
	"github.com/starford/rulekeeper/internal/parser"
	"github.com/starford/rulekeeper/internal/storage"
)

// SyncStats reports what a Sync pass changed.
type SyncStats struct {
	Indexed int
	Removed int
	Total   int
}

// Sync brings the index in line with the document tree: new or changed
// files are parsed and upserted, files gone from disk are removed.
func Sync(db *DB, store storage.Provider, logger *slog.Logger) (SyncStats, error) {
	var stats SyncStats

	metas, err := store.List("")
	if err != nil {
		return stats, err
	}
	checksums, err := db.AllChecksums()
	if err != nil {
		return stats, err
	}

	disk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		disk[m.Path] = struct{}{}
		if checksums[m.Path] == m.Checksum {
			continue
		}
		data, err := store.Read(m.Path)
		if err != nil {
			logger.Warn("sync: read failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		if err := indexFile(db, m, data); err != nil {
			logger.Warn("sync: index failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		stats.Indexed++
		logger.Debug("sync: indexed", slog.String("path", m.Path))
	}

	for p := range checksums {
		if _, ok := disk[p]; ok {
			continue
		}
		if err := db.Delete(p); err != nil {
			logger.Warn("sync: delete failed", slog.String("path", p), slog.String("error", err.Error()))
			continue
		}
		stats.Removed++
		logger.Debug("sync: removed stale", slog.String("path", p))
	}

	stats.Total = len(disk)
	return stats, nil
}

// indexFile parses data and upserts it.
func indexFile(db *DB, meta models.DocumentMeta, data []byte) error {
	res, err := parser.Parse(data)
	if err != nil {
		return err
	}
	title := res.Title
	if title == "" {
		title = meta.Path
	}
	return db.Upsert(DocumentRow{
		Path:      meta.Path,
		Title:     title,
		Checksum:  checksum.Sum(data),
		Tags:      res.Tags,
		UpdatedAt: meta.UpdatedAt,
	}, res.Body)
}
