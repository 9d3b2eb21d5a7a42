// Package docstore is the document target of a migration.
package docstore

import (
	"context"
	"errors"

	"github.com/bookshelf/relmigrate/entity"
)

// ErrValidation is returned when a document violates the validator of its collection.
var ErrValidation = errors.New("docstore: document failed validation")

// Store is a document store. WriteBatch must be idempotent: writing a document whose id
// already exists replaces it with the given content.
type Store interface {
	HasCollection(ctx context.Context, name string) (bool, error)
	CreateCollection(ctx context.Context, name string) error
	ApplyValidator(ctx context.Context, name string, schema Schema) error
	CreateIndex(ctx context.Context, name string, index Index) error
	WriteBatch(ctx context.Context, collection string, docs []entity.Document) error
	Drop(ctx context.Context, name string) error
	Close() error
}

// FieldType is the type a validator enforces on a field.
type FieldType string

const (
	TypeString   FieldType = "string"
	TypeDatetime FieldType = "datetime"
	TypeArray    FieldType = "array"
)

type Field struct {
	Name      string
	Type      FieldType
	MinLength int
	// Items is the element type of an array field.
	Items FieldType
}

type Schema struct {
	Fields []Field
}

type Index struct {
	Name   string
	Fields []string
	Unique bool
}

// Collection describes a target collection with its validator and indexes.
type Collection struct {
	Name    string
	Schema  Schema
	Indexes []Index
}

// Collections returns the target collections in dependency order.
func Collections() []Collection {
	return []Collection{
		{
			Name: entity.KindAuthor.Collection(),
			Schema: Schema{Fields: []Field{
				{Name: "fullName", Type: TypeString, MinLength: 1},
			}},
		},
		{
			Name: entity.KindGenre.Collection(),
			Schema: Schema{Fields: []Field{
				{Name: "name", Type: TypeString},
			}},
		},
		{
			Name: entity.KindBook.Collection(),
			Schema: Schema{Fields: []Field{
				{Name: "title", Type: TypeString},
				{Name: "authorId", Type: TypeString},
				{Name: "genreIds", Type: TypeArray, Items: TypeString},
			}},
		},
		{
			Name: entity.KindComment.Collection(),
			Schema: Schema{Fields: []Field{
				{Name: "text", Type: TypeString},
				{Name: "bookId", Type: TypeString},
				{Name: "createdAt", Type: TypeDatetime},
			}},
			Indexes: []Index{
				{Name: "comments_book_id", Fields: []string{"bookId"}},
				{Name: "comments_created_at", Fields: []string{"createdAt"}},
			},
		},
	}
}
