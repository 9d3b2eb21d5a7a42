// Package entity holds the source records read from the relational database and the
// documents written to the target store.
package entity

import (
	"fmt"
	"time"
)

// Kind is an entity kind. It doubles as the source type of identifier mappings.
type Kind string

const (
	KindAuthor  Kind = "author"
	KindGenre   Kind = "genre"
	KindBook    Kind = "book"
	KindComment Kind = "comment"
)

// Kinds lists every kind in dependency order.
var Kinds = []Kind{KindAuthor, KindGenre, KindBook, KindComment}

func (k Kind) String() string {
	return string(k)
}

// Collection is the target collection of the kind, also used as step name.
func (k Kind) Collection() string {
	return string(k) + "s"
}

// ParseKind accepts a kind or its collection name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if s == string(k) || s == k.Collection() {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown entity kind %q", s)
}

// Record is a source row.
type Record interface {
	Kind() Kind
	SourceID() int64
}

type Author struct {
	ID       int64
	FullName string
}

func (a *Author) Kind() Kind      { return KindAuthor }
func (a *Author) SourceID() int64 { return a.ID }

type Genre struct {
	ID   int64
	Name string
}

func (g *Genre) Kind() Kind      { return KindGenre }
func (g *Genre) SourceID() int64 { return g.ID }

// Book is a book row with its author and genre references. AuthorID is 0 when the row
// carries no author.
type Book struct {
	ID       int64
	Title    string
	AuthorID int64
	GenreIDs []int64
}

func (b *Book) Kind() Kind      { return KindBook }
func (b *Book) SourceID() int64 { return b.ID }

// Comment is a comment row. BookID is 0 when the row carries no book.
type Comment struct {
	ID        int64
	Text      string
	BookID    int64
	CreatedAt time.Time
}

func (c *Comment) Kind() Kind      { return KindComment }
func (c *Comment) SourceID() int64 { return c.ID }
