// Package source reads the relational library schema in offset windows.
package source

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gorm.io/gorm"

	"github.com/bookshelf/relmigrate"
	"github.com/bookshelf/relmigrate/entity"
)

type AuthorRow struct {
	Id       int64  `gorm:"column:id;primaryKey;autoIncrement"`
	FullName string `gorm:"column:full_name;size:255"`
}

func (AuthorRow) TableName() string { return "authors" }

type GenreRow struct {
	Id   int64  `gorm:"column:id;primaryKey;autoIncrement"`
	Name string `gorm:"column:name;size:255"`
}

func (GenreRow) TableName() string { return "genres" }

type BookRow struct {
	Id       int64  `gorm:"column:id;primaryKey;autoIncrement"`
	Title    string `gorm:"column:title;size:255"`
	AuthorId *int64 `gorm:"column:author_id;index"`
}

func (BookRow) TableName() string { return "books" }

type BookGenreRow struct {
	BookId  int64 `gorm:"column:book_id;primaryKey"`
	GenreId int64 `gorm:"column:genre_id;primaryKey"`
}

func (BookGenreRow) TableName() string { return "books_genres" }

type CommentRow struct {
	Id        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Text      string    `gorm:"column:text;size:2048"`
	BookId    *int64    `gorm:"column:book_id;index"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (CommentRow) TableName() string { return "comments" }

// Migrate creates the source tables. Only tests and local setups need it.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&AuthorRow{}, &GenreRow{}, &BookRow{}, &BookGenreRow{}, &CommentRow{})
}

type Source struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Source {
	return &Source{db: db}
}

func (s *Source) window(ctx context.Context, w relmigrate.Window) *gorm.DB {
	q := s.db.WithContext(ctx).Order("id").Offset(int(w.Offset)).Limit(int(w.Limit))
	if w.Partition.Modulus > 1 {
		q = q.Where("id % ? = ?", w.Partition.Modulus, w.Partition.Remainder)
	}
	return q
}

// ReadWindow returns the rows of a kind ordered by id.
func (s *Source) ReadWindow(ctx context.Context, kind entity.Kind, w relmigrate.Window) ([]entity.Record, error) {
	switch kind {
	case entity.KindAuthor:
		var rows []AuthorRow
		if err := s.window(ctx, w).Find(&rows).Error; err != nil {
			return nil, errors.Wrap(err, "read authors")
		}
		return lo.Map(rows, func(r AuthorRow, _ int) entity.Record {
			return &entity.Author{ID: r.Id, FullName: r.FullName}
		}), nil
	case entity.KindGenre:
		var rows []GenreRow
		if err := s.window(ctx, w).Find(&rows).Error; err != nil {
			return nil, errors.Wrap(err, "read genres")
		}
		return lo.Map(rows, func(r GenreRow, _ int) entity.Record {
			return &entity.Genre{ID: r.Id, Name: r.Name}
		}), nil
	case entity.KindBook:
		return s.readBooks(ctx, w)
	case entity.KindComment:
		var rows []CommentRow
		if err := s.window(ctx, w).Find(&rows).Error; err != nil {
			return nil, errors.Wrap(err, "read comments")
		}
		return lo.Map(rows, func(r CommentRow, _ int) entity.Record {
			return &entity.Comment{ID: r.Id, Text: r.Text, BookID: lo.FromPtr(r.BookId), CreatedAt: r.CreatedAt}
		}), nil
	}
	return nil, errors.Errorf("unknown entity kind %v", kind)
}

func (s *Source) readBooks(ctx context.Context, w relmigrate.Window) ([]entity.Record, error) {
	var rows []BookRow
	if err := s.window(ctx, w).Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "read books")
	}
	if len(rows) == 0 {
		return nil, nil
	}
	ids := lo.Map(rows, func(r BookRow, _ int) int64 { return r.Id })
	var links []BookGenreRow
	err := s.db.WithContext(ctx).Where("book_id IN ?", ids).Order("book_id, genre_id").Find(&links).Error
	if err != nil {
		return nil, errors.Wrap(err, "read book genres")
	}
	genres := lo.GroupBy(links, func(l BookGenreRow) int64 { return l.BookId })
	return lo.Map(rows, func(r BookRow, _ int) entity.Record {
		return &entity.Book{
			ID:       r.Id,
			Title:    r.Title,
			AuthorID: lo.FromPtr(r.AuthorId),
			GenreIDs: lo.Map(genres[r.Id], func(l BookGenreRow, _ int) int64 { return l.GenreId }),
		}
	}), nil
}

// Reader adapts one kind of the source to a chunk step reader.
func (s *Source) Reader(kind entity.Kind) relmigrate.Reader {
	return &kindReader{source: s, kind: kind}
}

type kindReader struct {
	source *Source
	kind   entity.Kind
}

func (r *kindReader) ReadWindow(ctx context.Context, w relmigrate.Window) ([]interface{}, relmigrate.BatchError) {
	records, err := r.source.ReadWindow(ctx, r.kind, w)
	if err != nil {
		return nil, relmigrate.NewBatchError(relmigrate.ErrCodeDbFail, "read %v window at offset:%v", r.kind, w.Offset, err)
	}
	return lo.ToAnySlice(records), nil
}
