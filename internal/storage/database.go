package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang/snappy"
	"github.com/smallbiznis/phage/internal/clock"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// maxBlobSize caps what the database backend accepts per object.
const maxBlobSize = 256 << 20

// Blob is a snappy-compressed object row used by the database backend.
type Blob struct {
	Key         string    `gorm:"column:blob_key;primaryKey;type:varchar(512)"`
	ContentType string    `gorm:"type:text;not null"`
	Size        int64     `gorm:"not null"`
	Data        []byte    `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null"`
}

func (Blob) TableName() string { return "blobs" }

type databaseStore struct {
	db     *gorm.DB
	signer *Signer
	clock  clock.Clock
}

func NewDatabaseStore(conn *gorm.DB, signer *Signer, clk clock.Clock) Store {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &databaseStore{db: conn, signer: signer, clock: clk}
}

func (s *databaseStore) Put(ctx context.Context, key, contentType string, r io.Reader, size int64) error {
	if err := validateKey(key); err != nil {
		return err
	}
	data, err := io.ReadAll(io.LimitReader(r, maxBlobSize+1))
	if err != nil {
		return fmt.Errorf("read blob: %w", err)
	}
	if len(data) > maxBlobSize {
		return fmt.Errorf("blob %s exceeds %d bytes", key, maxBlobSize)
	}
	if size >= 0 && int64(len(data)) != size {
		return fmt.Errorf("blob %s: expected %d bytes, read %d", key, size, len(data))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	row := Blob{
		Key:         key,
		ContentType: contentType,
		Size:        int64(len(data)),
		Data:        snappy.Encode(nil, data),
		CreatedAt:   s.clock.Now(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "blob_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"content_type", "size", "data", "created_at"}),
		}).
		Create(&row).Error
}

func (s *databaseStore) Get(ctx context.Context, key string) (*Object, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	var row Blob
	err := s.db.WithContext(ctx).Where("blob_key = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	data, err := snappy.Decode(nil, row.Data)
	if err != nil {
		return nil, fmt.Errorf("decode blob %s: %w", key, err)
	}
	return &Object{
		Body:        io.NopCloser(bytes.NewReader(data)),
		ContentType: row.ContentType,
		Size:        int64(len(data)),
	}, nil
}

func (s *databaseStore) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Where("blob_key = ?", key).Delete(&Blob{}).Error
}

func (s *databaseStore) URL(ctx context.Context, key string, ttl time.Duration, filename string) (string, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Blob{}).Where("blob_key = ?", key).Count(&count).Error; err != nil {
		return "", err
	}
	if count == 0 {
		return "", ErrNotFound
	}
	return s.signer.Sign(key, ttl, filename)
}
