package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"aegis/pkg/chat"
	"aegis/pkg/utils"
)

// CreateFile inserts a file record and its renderable pages atomically.
func (s *Store) CreateFile(ctx context.Context, rec chat.FileRecord, pages []chat.FilePage) (chat.FileRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return chat.FileRecord{}, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO files (user_id, filename, mime_type, size, page_count)
		VALUES (?, ?, ?, ?, ?)`,
		rec.UserID, rec.Filename, rec.MimeType, rec.Size, len(pages),
	)
	if err != nil {
		return chat.FileRecord{}, fmt.Errorf("failed to insert file: %w", err)
	}
	rec.ID, _ = res.LastInsertId()
	rec.PageCount = len(pages)

	for i, p := range pages {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO file_pages (file_id, page_number, name, mime_type, data)
			VALUES (?, ?, ?, ?, ?)`,
			rec.ID, i+1, p.Name, p.MimeType, p.Data,
		); err != nil {
			return chat.FileRecord{}, fmt.Errorf("failed to insert file page: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return chat.FileRecord{}, fmt.Errorf("failed to commit file: %w", err)
	}
	return rec, nil
}

// File returns a file record with its pages. A missing file returns
// (nil, nil, nil) so callers can skip it silently.
func (s *Store) File(ctx context.Context, id int64) (*chat.FileRecord, []chat.FilePage, error) {
	var rec chat.FileRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, filename, mime_type, size, page_count, created_at
		FROM files WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.UserID, &rec.Filename, &rec.MimeType, &rec.Size, &rec.PageCount, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to scan file: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT file_id, page_number, name, mime_type, data
		FROM file_pages WHERE file_id = ? ORDER BY page_number`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query file pages: %w", err)
	}
	defer rows.Close()

	var pages []chat.FilePage
	for rows.Next() {
		var p chat.FilePage
		if err := rows.Scan(&p.FileID, &p.PageNumber, &p.Name, &p.MimeType, &p.Data); err != nil {
			return nil, nil, fmt.Errorf("failed to scan file page: %w", err)
		}
		pages = append(pages, p)
	}
	return &rec, pages, rows.Err()
}

// SaveDownload stores fetched bytes as a file. Image payloads become a
// single renderable page; other payloads are kept page-less.
func (s *Store) SaveDownload(ctx context.Context, name string, data []byte) (int64, int, error) {
	mimeType, ext := utils.DetectMimeAndExt(data)
	filename := utils.SafeFilename(name)
	if filename == "file" {
		filename = "download" + ext
	}

	var pages []chat.FilePage
	if utils.IsImageMime(mimeType) {
		pages = append(pages, chat.FilePage{
			Name:     filename,
			MimeType: mimeType,
			Data:     data,
		})
	}

	rec, err := s.CreateFile(ctx, chat.FileRecord{
		Filename: filename,
		MimeType: mimeType,
		Size:     int64(len(data)),
	}, pages)
	if err != nil {
		return 0, 0, err
	}
	return rec.ID, rec.PageCount, nil
}
