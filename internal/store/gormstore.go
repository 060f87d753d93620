package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// documentRow is the single-table relational shape of a stored document.
type documentRow struct {
	Collection string         `gorm:"primaryKey;size:64"`
	DocID      string         `gorm:"primaryKey;size:64;column:doc_id"`
	Data       datatypes.JSON `gorm:"not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (documentRow) TableName() string { return "documents" }

// Gorm is a DocumentStore persisted through GORM (SQLite for local runs,
// Postgres for shared deployments). It has no native change feed, so every
// write publishes through the configured Notifier and subscribers re-read
// to deliver snapshots.
type Gorm struct {
	db       *gorm.DB
	notifier Notifier
	logger   zerolog.Logger
}

// OpenGorm connects to the database named by dsn. DSNs starting with
// "postgres://" or "postgresql://" use the Postgres driver; anything else
// is treated as a SQLite file path.
func OpenGorm(dsn string, notifier Notifier, logger zerolog.Logger) (*Gorm, error) {
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&documentRow{}); err != nil {
		return nil, fmt.Errorf("migrate documents table: %w", err)
	}

	if notifier == nil {
		notifier = NewLocalNotifier()
	}
	return &Gorm{
		db:       db,
		notifier: notifier,
		logger:   logger.With().Str("component", "gorm_store").Logger(),
	}, nil
}

// Query fetches a collection and applies the filter client-side.
func (g *Gorm) Query(ctx context.Context, collection string, filter *Filter) ([]Document, error) {
	var rows []documentRow
	if err := g.db.WithContext(ctx).Where("collection = ?", collection).Order("doc_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("read collection %s: %w", collection, err)
	}

	docs := make([]Document, 0, len(rows))
	for _, row := range rows {
		data := json.RawMessage(row.Data)
		if !matchesFilter(data, filter) {
			continue
		}
		docs = append(docs, Document{ID: row.DocID, Data: data})
	}
	return docs, nil
}

// Subscribe delivers an initial snapshot, then re-reads on every
// invalidation published for the collection.
func (g *Gorm) Subscribe(ctx context.Context, collection string, filter *Filter, fn SnapshotFunc) (UnsubscribeFunc, error) {
	initial, err := g.Query(ctx, collection, filter)
	if err != nil {
		return nil, err
	}

	unsub, err := g.notifier.Subscribe(collection, func() {
		docs, err := g.Query(ctx, collection, filter)
		if err != nil {
			g.logger.Error().Err(err).Str("collection", collection).Msg("snapshot re-read failed")
			return
		}
		fn(Snapshot{Docs: docs})
	})
	if err != nil {
		return nil, err
	}

	fn(Snapshot{Docs: initial})
	return unsub, nil
}

// SubscribeDocument delivers the document's current state, then again on
// every invalidation for its collection.
func (g *Gorm) SubscribeDocument(ctx context.Context, path string, fn DocumentFunc) (UnsubscribeFunc, error) {
	collection, docID, err := SplitPath(path)
	if err != nil {
		return nil, err
	}

	deliver := func() {
		doc, err := g.GetDocument(ctx, path)
		if errors.Is(err, ErrNotFound) {
			fn(Document{ID: docID}, false)
			return
		}
		if err != nil {
			g.logger.Error().Err(err).Str("path", path).Msg("document re-read failed")
			return
		}
		fn(doc, true)
	}

	unsub, err := g.notifier.Subscribe(collection, deliver)
	if err != nil {
		return nil, err
	}
	deliver()
	return unsub, nil
}

// GetDocument fetches one document by path.
func (g *Gorm) GetDocument(ctx context.Context, path string) (Document, error) {
	collection, docID, err := SplitPath(path)
	if err != nil {
		return Document{}, err
	}

	var row documentRow
	err = g.db.WithContext(ctx).Where("collection = ? AND doc_id = ?", collection, docID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("read %s: %w", path, err)
	}
	return Document{ID: row.DocID, Data: json.RawMessage(row.Data)}, nil
}

// CreateDocument writes data under a fresh id and returns it.
func (g *Gorm) CreateDocument(ctx context.Context, collection string, data any) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal document: %w", err)
	}

	id := uuid.NewString()
	row := documentRow{Collection: collection, DocID: id, Data: datatypes.JSON(raw)}
	if err := g.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", fmt.Errorf("create in %s: %w", collection, err)
	}
	g.publish(collection)
	return id, nil
}

// SetDocument replaces the document at path, creating it when absent.
func (g *Gorm) SetDocument(ctx context.Context, path string, data any) error {
	collection, docID, err := SplitPath(path)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	row := documentRow{Collection: collection, DocID: docID, Data: datatypes.JSON(raw)}
	if err := g.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	g.publish(collection)
	return nil
}

// UpdateDocument merges partial fields into the document at path inside a
// transaction.
func (g *Gorm) UpdateDocument(ctx context.Context, path string, fields map[string]any) error {
	return g.rewrite(ctx, path, func(raw json.RawMessage) (json.RawMessage, error) {
		return mergeFields(raw, fields)
	})
}

// AppendToArrayField appends one value to a document's array field inside a
// transaction.
func (g *Gorm) AppendToArrayField(ctx context.Context, path string, field string, value any) error {
	return g.rewrite(ctx, path, func(raw json.RawMessage) (json.RawMessage, error) {
		return appendToArray(raw, field, value)
	})
}

func (g *Gorm) rewrite(ctx context.Context, path string, mutate func(json.RawMessage) (json.RawMessage, error)) error {
	collection, docID, err := SplitPath(path)
	if err != nil {
		return err
	}

	err = g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row documentRow
		err := tx.Where("collection = ? AND doc_id = ?", collection, docID).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		mutated, err := mutate(json.RawMessage(row.Data))
		if err != nil {
			return err
		}
		row.Data = datatypes.JSON(mutated)
		return tx.Save(&row).Error
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("rewrite %s: %w", path, err)
	}

	g.publish(collection)
	return nil
}

func (g *Gorm) publish(collection string) {
	if err := g.notifier.Publish(collection); err != nil {
		g.logger.Warn().Err(err).Str("collection", collection).Msg("invalidation publish failed")
	}
}
