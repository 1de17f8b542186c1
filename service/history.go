package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/TIANLI0/CellOverlay/model"
	"github.com/pkg/errors"

	_ "github.com/mattn/go-sqlite3"
)

const createOverlaysSQL = `
CREATE TABLE IF NOT EXISTS overlays (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	md5 TEXT NOT NULL,
	upload_name TEXT,
	overlay_file TEXT NOT NULL,
	mask_file TEXT,
	bbox_file TEXT,
	detections INTEGER,
	width INTEGER,
	height INTEGER,
	created_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_overlays_md5 ON overlays(md5);
CREATE INDEX IF NOT EXISTS idx_overlays_created_at ON overlays(created_at);`

// HistoryStore 在SQLite中记录每次生成的叠加图
type HistoryStore struct {
	db *sql.DB
}

func NewHistoryStore(path string) (*HistoryStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "open history database")
	}
	if _, err := db.Exec(createOverlaysSQL); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create overlays table")
	}
	return &HistoryStore{db: db}, nil
}

// Record 写入一条记录
func (h *HistoryStore) Record(ctx context.Context, uploadName string, r *model.OverlayResult) error {
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO overlays (
			md5, upload_name, overlay_file, mask_file, bbox_file, detections, width, height, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.MD5,
		uploadName,
		r.OverlayFile,
		r.MaskFile,
		r.BBoxFile,
		len(r.Detections),
		r.Width,
		r.Height,
		time.Unix(r.Timestamp, 0).UTC().Format(time.RFC3339),
	)
	if err != nil {
		return errors.Wrapf(err, "insert overlay %s", r.OverlayFile)
	}
	return nil
}

// Recent 按时间倒序返回最近的记录
func (h *HistoryStore) Recent(ctx context.Context, limit int) ([]model.HistoryEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := h.db.QueryContext(ctx, `
		SELECT id, md5, upload_name, overlay_file, mask_file, bbox_file, detections, width, height, created_at
		FROM overlays ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query overlays")
	}
	defer rows.Close()

	entries := make([]model.HistoryEntry, 0, limit)
	for rows.Next() {
		var e model.HistoryEntry
		if err := rows.Scan(&e.ID, &e.MD5, &e.UploadName, &e.OverlayFile, &e.MaskFile,
			&e.BBoxFile, &e.Detections, &e.Width, &e.Height, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan overlay row")
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (h *HistoryStore) Close() error {
	return h.db.Close()
}
