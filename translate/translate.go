// Package translate converts source records into target documents, rewriting every
// relational key through the identifier mapping.
package translate

import (
	"context"
	"strconv"

	"github.com/pkg/errors"

	"github.com/bookshelf/relmigrate"
	"github.com/bookshelf/relmigrate/entity"
	"github.com/bookshelf/relmigrate/idmap"
)

// IDs is the part of the identifier mapping service translators use. Own ids are
// resolved, foreign keys only looked up: a reference to a row that was never migrated
// is a dangling foreign key, not a new mapping.
type IDs interface {
	Resolve(ctx context.Context, sourceType, sourceID string) (string, error)
	Lookup(ctx context.Context, sourceType, sourceID string) (string, error)
}

type Translator interface {
	Translate(ctx context.Context, record entity.Record) (entity.Document, relmigrate.BatchError)
}

// For returns the translator of a kind.
func For(kind entity.Kind, ids IDs) Translator {
	switch kind {
	case entity.KindAuthor:
		return &authorTranslator{ids: ids}
	case entity.KindGenre:
		return &genreTranslator{ids: ids}
	case entity.KindBook:
		return &bookTranslator{ids: ids}
	case entity.KindComment:
		return &commentTranslator{ids: ids}
	}
	panic("no translator for kind " + kind.String())
}

func key(id int64) string {
	return strconv.FormatInt(id, 10)
}

func resolve(ctx context.Context, ids IDs, kind entity.Kind, id int64) (string, relmigrate.BatchError) {
	target, err := ids.Resolve(ctx, kind.String(), key(id))
	if err != nil {
		return "", relmigrate.NewBatchError(relmigrate.ErrCodeTranslationStoreUnavailable, "resolve %v %v", kind, id, err)
	}
	return target, nil
}

// reference looks up the target id of a foreign key held by owner.
func reference(ctx context.Context, ids IDs, owner entity.Record, kind entity.Kind, id int64) (string, relmigrate.BatchError) {
	if id == 0 {
		return "", relmigrate.NewBatchError(relmigrate.ErrCodeDanglingForeignKey, "%v %v has no %v", owner.Kind(), owner.SourceID(), kind)
	}
	target, err := ids.Lookup(ctx, kind.String(), key(id))
	if err == nil {
		return target, nil
	}
	if errors.Is(err, idmap.ErrNotMapped) {
		return "", relmigrate.NewBatchError(relmigrate.ErrCodeDanglingForeignKey, "%v %v references unknown %v %v", owner.Kind(), owner.SourceID(), kind, id, err)
	}
	return "", relmigrate.NewBatchError(relmigrate.ErrCodeTranslationStoreUnavailable, "lookup %v %v", kind, id, err)
}

func mismatch(want entity.Kind, record entity.Record) relmigrate.BatchError {
	return relmigrate.NewBatchError(relmigrate.ErrCodeGeneral, "%v translator got %T", want, record)
}

type authorTranslator struct {
	ids IDs
}

func (t *authorTranslator) Translate(ctx context.Context, record entity.Record) (entity.Document, relmigrate.BatchError) {
	a, ok := record.(*entity.Author)
	if !ok {
		return nil, mismatch(entity.KindAuthor, record)
	}
	id, err := resolve(ctx, t.ids, entity.KindAuthor, a.ID)
	if err != nil {
		return nil, err
	}
	return &entity.AuthorDocument{ID: id, FullName: a.FullName}, nil
}

type genreTranslator struct {
	ids IDs
}

func (t *genreTranslator) Translate(ctx context.Context, record entity.Record) (entity.Document, relmigrate.BatchError) {
	g, ok := record.(*entity.Genre)
	if !ok {
		return nil, mismatch(entity.KindGenre, record)
	}
	id, err := resolve(ctx, t.ids, entity.KindGenre, g.ID)
	if err != nil {
		return nil, err
	}
	return &entity.GenreDocument{ID: id, Name: g.Name}, nil
}

type bookTranslator struct {
	ids IDs
}

func (t *bookTranslator) Translate(ctx context.Context, record entity.Record) (entity.Document, relmigrate.BatchError) {
	b, ok := record.(*entity.Book)
	if !ok {
		return nil, mismatch(entity.KindBook, record)
	}
	authorID, err := reference(ctx, t.ids, b, entity.KindAuthor, b.AuthorID)
	if err != nil {
		return nil, err
	}
	genreIDs := make([]string, 0, len(b.GenreIDs))
	for _, g := range b.GenreIDs {
		genreID, err := reference(ctx, t.ids, b, entity.KindGenre, g)
		if err != nil {
			return nil, err
		}
		genreIDs = append(genreIDs, genreID)
	}
	id, err := resolve(ctx, t.ids, entity.KindBook, b.ID)
	if err != nil {
		return nil, err
	}
	return &entity.BookDocument{ID: id, Title: b.Title, AuthorID: authorID, GenreIDs: genreIDs}, nil
}

type commentTranslator struct {
	ids IDs
}

func (t *commentTranslator) Translate(ctx context.Context, record entity.Record) (entity.Document, relmigrate.BatchError) {
	c, ok := record.(*entity.Comment)
	if !ok {
		return nil, mismatch(entity.KindComment, record)
	}
	bookID, err := reference(ctx, t.ids, c, entity.KindBook, c.BookID)
	if err != nil {
		return nil, err
	}
	id, err := resolve(ctx, t.ids, entity.KindComment, c.ID)
	if err != nil {
		return nil, err
	}
	return &entity.CommentDocument{ID: id, Text: c.Text, BookID: bookID, CreatedAt: c.CreatedAt}, nil
}

// Processor adapts a Translator to a chunk step processor.
type Processor struct {
	Translator Translator
}

func (p *Processor) Process(ctx context.Context, item interface{}) (interface{}, relmigrate.BatchError) {
	record, ok := item.(entity.Record)
	if !ok {
		return nil, relmigrate.NewBatchError(relmigrate.ErrCodeGeneral, "item %T is not a source record", item)
	}
	return p.Translator.Translate(ctx, record)
}
