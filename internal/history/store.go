package history

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Transfer is one finished transfer item.
type Transfer struct {
	ID          uint   `gorm:"primaryKey"`
	FileID      string `gorm:"index"`
	Direction   string
	Name        string
	Size        int64
	Transferred int64
	MimeType    string
	Result      string `gorm:"index"`
	Location    string
	Room        string
	Peer        string
	StartedAt   int64
	FinishedAt  int64
}

// Duration is how long the transfer ran.
func (t Transfer) Duration() time.Duration {
	if t.StartedAt == 0 || t.FinishedAt < t.StartedAt {
		return 0
	}
	return time.Duration(t.FinishedAt-t.StartedAt) * time.Millisecond
}

// Store persists transfers in SQLite.
type Store struct {
	DB *gorm.DB
}

// Open opens (creating if needed) the history database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		PrepareStmt: true,
		Logger:      logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	if err := db.AutoMigrate(&Transfer{}); err != nil {
		return nil, fmt.Errorf("migrate history: %w", err)
	}
	return &Store{DB: db}, nil
}

// Add records one transfer.
func (s *Store) Add(t *Transfer) error {
	return s.DB.Create(t).Error
}

// Recent returns up to limit transfers, newest first. A limit of zero or
// less returns everything.
func (s *Store) Recent(limit int) ([]Transfer, error) {
	var out []Transfer
	q := s.DB.Order("finished_at desc, id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Clear deletes every record.
func (s *Store) Clear() error {
	return s.DB.Where("1 = 1").Delete(&Transfer{}).Error
}

// Close releases the database.
func (s *Store) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
