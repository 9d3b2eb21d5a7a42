package docstore

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"github.com/surrealdb/surrealdb.go"

	"github.com/bookshelf/relmigrate/entity"
)

// Conn is the part of a SurrealDB connection the store needs. vars is always a
// map[string]interface{} or nil.
type Conn interface {
	Query(sql string, vars interface{}) (interface{}, error)
	Close()
}

type SurrealConfig struct {
	URL       string
	Namespace string
	Database  string
	User      string
	Password  string
}

// SurrealStore writes documents to SurrealDB tables, one table per collection. Each
// batch runs in a single SurrealQL transaction.
type SurrealStore struct {
	conn Conn
}

// OpenSurreal connects, signs in and selects the namespace and database.
func OpenSurreal(cfg SurrealConfig) (*SurrealStore, error) {
	db, err := surrealdb.New(cfg.URL)
	if err != nil {
		return nil, errors.Wrapf(err, "connect to %s", cfg.URL)
	}
	if cfg.User != "" {
		if _, err = db.Signin(map[string]interface{}{"user": cfg.User, "pass": cfg.Password}); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "signin")
		}
	}
	if _, err = db.Use(cfg.Namespace, cfg.Database); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "use %s/%s", cfg.Namespace, cfg.Database)
	}
	return NewSurrealStore(db), nil
}

func NewSurrealStore(conn Conn) *SurrealStore {
	return &SurrealStore{conn: conn}
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func ident(name string) (string, error) {
	if !identifier.MatchString(name) {
		return "", fmt.Errorf("invalid identifier %q", name)
	}
	return name, nil
}

// query runs sql and returns the result of each statement, failing on the first
// statement whose status is not OK.
func (s *SurrealStore) query(sql string, vars map[string]interface{}) ([]interface{}, error) {
	raw, err := s.conn.Query(sql, vars)
	if err != nil {
		return nil, err
	}
	statements, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected query response %T", raw)
	}
	results := make([]interface{}, 0, len(statements))
	for i, st := range statements {
		m, ok := st.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("unexpected statement response %T", st)
		}
		if status, _ := m["status"].(string); status != "OK" {
			detail := m["detail"]
			if detail == nil {
				detail = m["result"]
			}
			return nil, fmt.Errorf("statement %d failed: %v", i, detail)
		}
		results = append(results, m["result"])
	}
	return results, nil
}

func (s *SurrealStore) HasCollection(ctx context.Context, name string) (bool, error) {
	results, err := s.query("INFO FOR DB;", nil)
	if err != nil {
		return false, err
	}
	if len(results) == 0 {
		return false, nil
	}
	info, _ := results[0].(map[string]interface{})
	for _, key := range []string{"tables", "tb"} {
		if tables, ok := info[key].(map[string]interface{}); ok {
			_, found := tables[name]
			return found, nil
		}
	}
	return false, nil
}

func (s *SurrealStore) CreateCollection(ctx context.Context, name string) error {
	tb, err := ident(name)
	if err != nil {
		return err
	}
	_, err = s.query(fmt.Sprintf("DEFINE TABLE %s SCHEMAFULL;", tb), nil)
	return err
}

// ApplyValidator defines one field per schema field. DEFINE FIELD overwrites an
// existing definition, so applying twice is harmless.
func (s *SurrealStore) ApplyValidator(ctx context.Context, name string, schema Schema) error {
	tb, err := ident(name)
	if err != nil {
		return err
	}
	var sb strings.Builder
	for _, f := range schema.Fields {
		field, err := ident(f.Name)
		if err != nil {
			return err
		}
		switch f.Type {
		case TypeDatetime:
			fmt.Fprintf(&sb, "DEFINE FIELD %s ON TABLE %s TYPE datetime VALUE <datetime> $value;\n", field, tb)
		case TypeArray:
			fmt.Fprintf(&sb, "DEFINE FIELD %s ON TABLE %s TYPE array;\n", field, tb)
			if f.Items != "" {
				fmt.Fprintf(&sb, "DEFINE FIELD %s.* ON TABLE %s TYPE %s;\n", field, tb, f.Items)
			}
		default:
			fmt.Fprintf(&sb, "DEFINE FIELD %s ON TABLE %s TYPE %s", field, tb, f.Type)
			if f.MinLength > 0 {
				fmt.Fprintf(&sb, " ASSERT string::len($value) >= %d", f.MinLength)
			}
			sb.WriteString(";\n")
		}
	}
	_, err = s.query(sb.String(), nil)
	return err
}

func (s *SurrealStore) CreateIndex(ctx context.Context, name string, index Index) error {
	tb, err := ident(name)
	if err != nil {
		return err
	}
	ix, err := ident(index.Name)
	if err != nil {
		return err
	}
	for _, f := range index.Fields {
		if _, err = ident(f); err != nil {
			return err
		}
	}
	sql := fmt.Sprintf("DEFINE INDEX %s ON TABLE %s COLUMNS %s", ix, tb, strings.Join(index.Fields, ", "))
	if index.Unique {
		sql += " UNIQUE"
	}
	_, err = s.query(sql+";", nil)
	return err
}

// WriteBatch upserts every document of the batch by id inside one transaction. UPSERT
// needs SurrealDB 2.0 or later.
func (s *SurrealStore) WriteBatch(ctx context.Context, collection string, docs []entity.Document) error {
	if len(docs) == 0 {
		return nil
	}
	tb, err := ident(collection)
	if err != nil {
		return err
	}
	vars := map[string]interface{}{"tb": tb}
	var sb strings.Builder
	sb.WriteString("BEGIN TRANSACTION;\n")
	for i, doc := range docs {
		fmt.Fprintf(&sb, "UPSERT type::thing($tb, $id_%d) CONTENT $doc_%d;\n", i, i)
		vars[fmt.Sprintf("id_%d", i)] = doc.DocumentID()
		vars[fmt.Sprintf("doc_%d", i)] = doc.Content()
	}
	sb.WriteString("COMMIT TRANSACTION;")
	_, err = s.query(sb.String(), vars)
	if err != nil {
		return errors.Wrapf(err, "write %d documents to %s", len(docs), collection)
	}
	return nil
}

func (s *SurrealStore) Drop(ctx context.Context, name string) error {
	tb, err := ident(name)
	if err != nil {
		return err
	}
	_, err = s.query(fmt.Sprintf("REMOVE TABLE %s;", tb), nil)
	if err != nil && strings.Contains(err.Error(), "does not exist") {
		return nil
	}
	return err
}

func (s *SurrealStore) Close() error {
	s.conn.Close()
	return nil
}
