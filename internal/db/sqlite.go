package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"

	"github.com/Boon40/PlantMore/internal/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Database is the relational store for conversations, messages and image
// rows. It owns referential structure and the cascading-delete transactions;
// blob bytes live outside it and are referenced by image_url only.
type Database struct {
	db *sql.DB
}

func New(dbPath string) (*Database, error) {
	sqlDB, err := sql.Open("sqlite3", "file:"+dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := runMigrations(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Database{db: sqlDB}, nil
}

func runMigrations(sqlDB *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	driver, err := migratesqlite.WithInstance(sqlDB, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("creating migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *Database) CreateConversation(ctx context.Context, title string) (*models.Conversation, error) {
	conv := &models.Conversation{Title: title}
	err := d.db.QueryRowContext(ctx,
		`INSERT INTO conversations (title) VALUES (?) RETURNING id, is_favourite`,
		title,
	).Scan(&conv.ID, &conv.IsFavourite)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func (d *Database) GetConversation(ctx context.Context, id int64) (*models.Conversation, error) {
	var conv models.Conversation
	err := d.db.QueryRowContext(ctx,
		`SELECT id, title, is_favourite FROM conversations WHERE id = ?`, id,
	).Scan(&conv.ID, &conv.Title, &conv.IsFavourite)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListConversations returns favourites first, then by id descending.
func (d *Database) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, title, is_favourite FROM conversations ORDER BY is_favourite DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conversations := make([]models.Conversation, 0)
	for rows.Next() {
		var conv models.Conversation
		if err := rows.Scan(&conv.ID, &conv.Title, &conv.IsFavourite); err != nil {
			return nil, err
		}
		conversations = append(conversations, conv)
	}
	return conversations, rows.Err()
}

func (d *Database) RenameConversation(ctx context.Context, id int64, title string) (*models.Conversation, error) {
	var conv models.Conversation
	err := d.db.QueryRowContext(ctx,
		`UPDATE conversations SET title = ? WHERE id = ? RETURNING id, title, is_favourite`,
		title, id,
	).Scan(&conv.ID, &conv.Title, &conv.IsFavourite)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (d *Database) SetFavourite(ctx context.Context, id int64, favourite bool) (*models.Conversation, error) {
	var conv models.Conversation
	err := d.db.QueryRowContext(ctx,
		`UPDATE conversations SET is_favourite = ? WHERE id = ? RETURNING id, title, is_favourite`,
		favourite, id,
	).Scan(&conv.ID, &conv.Title, &conv.IsFavourite)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// DeleteConversation removes the conversation, its messages and their image
// rows in a single transaction. It returns the blob URLs of every removed
// image row; the caller deletes the underlying files only after this commit
// has succeeded.
func (d *Database) DeleteConversation(ctx context.Context, id int64) ([]string, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	urls, err := collectURLs(tx.QueryContext(ctx,
		`SELECT image_url FROM images
		 WHERE message_id IN (SELECT id FROM messages WHERE conversation_id = ?)`, id))
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM images WHERE message_id IN (SELECT id FROM messages WHERE conversation_id = ?)`, id); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return nil, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return urls, nil
}

func (d *Database) CreateMessage(ctx context.Context, convID int64, role string, text *string) (*models.Message, error) {
	msg := &models.Message{ConvID: convID, Role: role, Text: text, Images: []models.Image{}}
	err := d.db.QueryRowContext(ctx,
		`INSERT INTO messages (conversation_id, role, text) VALUES (?, ?, ?) RETURNING id, created_at`,
		convID, role, text,
	).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (d *Database) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	var msg models.Message
	err := d.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, role, text, created_at FROM messages WHERE id = ?`, id,
	).Scan(&msg.ID, &msg.ConvID, &msg.Role, &msg.Text, &msg.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	msg.Images, err = d.ListImagesByMessage(ctx, msg.ID)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListMessagesByConversation returns messages oldest first (created_at, then
// id), each carrying its images ordered by image id.
func (d *Database) ListMessagesByConversation(ctx context.Context, convID int64) ([]models.Message, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, text, created_at
		 FROM messages WHERE conversation_id = ?
		 ORDER BY created_at ASC, id ASC`, convID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	byID := make(map[int64]int)
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.ID, &msg.ConvID, &msg.Role, &msg.Text, &msg.CreatedAt); err != nil {
			return nil, err
		}
		msg.Images = []models.Image{}
		byID[msg.ID] = len(messages)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	imgRows, err := d.db.QueryContext(ctx,
		`SELECT id, message_id, image_url FROM images
		 WHERE message_id IN (SELECT id FROM messages WHERE conversation_id = ?)
		 ORDER BY id ASC`, convID)
	if err != nil {
		return nil, err
	}
	defer imgRows.Close()

	for imgRows.Next() {
		var img models.Image
		if err := imgRows.Scan(&img.ID, &img.MessageID, &img.ImageURL); err != nil {
			return nil, err
		}
		if i, ok := byID[img.MessageID]; ok {
			messages[i].Images = append(messages[i].Images, img)
		}
	}
	return messages, imgRows.Err()
}

// DeleteMessage removes the message and its image rows transactionally,
// returning the removed blob URLs for post-commit file cleanup.
func (d *Database) DeleteMessage(ctx context.Context, id int64) ([]string, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	urls, err := collectURLs(tx.QueryContext(ctx,
		`SELECT image_url FROM images WHERE message_id = ?`, id))
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM images WHERE message_id = ?`, id); err != nil {
		return nil, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return urls, nil
}

func (d *Database) CreateImage(ctx context.Context, messageID int64, imageURL string) (*models.Image, error) {
	img := &models.Image{MessageID: messageID, ImageURL: imageURL}
	err := d.db.QueryRowContext(ctx,
		`INSERT INTO images (message_id, image_url) VALUES (?, ?) RETURNING id`,
		messageID, imageURL,
	).Scan(&img.ID)
	if err != nil {
		return nil, err
	}
	return img, nil
}

func (d *Database) GetImage(ctx context.Context, id int64) (*models.Image, error) {
	var img models.Image
	err := d.db.QueryRowContext(ctx,
		`SELECT id, message_id, image_url FROM images WHERE id = ?`, id,
	).Scan(&img.ID, &img.MessageID, &img.ImageURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &img, nil
}

func (d *Database) ListImagesByMessage(ctx context.Context, messageID int64) ([]models.Image, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, message_id, image_url FROM images WHERE message_id = ? ORDER BY id ASC`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	images := make([]models.Image, 0)
	for rows.Next() {
		var img models.Image
		if err := rows.Scan(&img.ID, &img.MessageID, &img.ImageURL); err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

// DeleteImage removes a single image row and returns its blob URL.
func (d *Database) DeleteImage(ctx context.Context, id int64) (string, error) {
	var url string
	err := d.db.QueryRowContext(ctx,
		`DELETE FROM images WHERE id = ? RETURNING image_url`, id,
	).Scan(&url)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return url, nil
}

// Exec runs a raw statement. Tests use it to install failure triggers.
func (d *Database) Exec(ctx context.Context, query string, args ...any) error {
	_, err := d.db.ExecContext(ctx, query, args...)
	return err
}

func collectURLs(rows *sql.Rows, err error) ([]string, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	urls := make([]string, 0)
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, err
		}
		urls = append(urls, url)
	}
	return urls, rows.Err()
}
