package entity

import (
	"time"
)

// Document is a translated record ready to be written to the target store. Its identity
// is DocumentID within Collection; Content holds every other field.
type Document interface {
	Collection() string
	DocumentID() string
	Content() map[string]interface{}
}

type AuthorDocument struct {
	ID       string `json:"id"`
	FullName string `json:"fullName"`
}

func (d *AuthorDocument) Collection() string { return KindAuthor.Collection() }
func (d *AuthorDocument) DocumentID() string { return d.ID }
func (d *AuthorDocument) Content() map[string]interface{} {
	return map[string]interface{}{"fullName": d.FullName}
}

type GenreDocument struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (d *GenreDocument) Collection() string { return KindGenre.Collection() }
func (d *GenreDocument) DocumentID() string { return d.ID }
func (d *GenreDocument) Content() map[string]interface{} {
	return map[string]interface{}{"name": d.Name}
}

// BookDocument references its author and genres by target id.
type BookDocument struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	AuthorID string   `json:"authorId"`
	GenreIDs []string `json:"genreIds"`
}

func (d *BookDocument) Collection() string { return KindBook.Collection() }
func (d *BookDocument) DocumentID() string { return d.ID }
func (d *BookDocument) Content() map[string]interface{} {
	genres := make([]interface{}, len(d.GenreIDs))
	for i, id := range d.GenreIDs {
		genres[i] = id
	}
	return map[string]interface{}{"title": d.Title, "authorId": d.AuthorID, "genreIds": genres}
}

type CommentDocument struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	BookID    string    `json:"bookId"`
	CreatedAt time.Time `json:"createdAt"`
}

func (d *CommentDocument) Collection() string { return KindComment.Collection() }
func (d *CommentDocument) DocumentID() string { return d.ID }
func (d *CommentDocument) Content() map[string]interface{} {
	return map[string]interface{}{"text": d.Text, "bookId": d.BookID, "createdAt": d.CreatedAt.UTC().Format(time.RFC3339Nano)}
}
