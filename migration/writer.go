package migration

import (
	"context"

	"github.com/bookshelf/relmigrate"
	"github.com/bookshelf/relmigrate/docstore"
	"github.com/bookshelf/relmigrate/entity"
)

// documentWriter writes a chunk of translated documents to one collection as a single batch.
type documentWriter struct {
	store      docstore.Store
	collection string
}

func (w *documentWriter) Write(ctx context.Context, items []interface{}) relmigrate.BatchError {
	docs := make([]entity.Document, 0, len(items))
	for _, item := range items {
		doc, ok := item.(entity.Document)
		if !ok {
			return relmigrate.NewBatchError(relmigrate.ErrCodeGeneral, "item %T is not a document", item)
		}
		docs = append(docs, doc)
	}
	if err := w.store.WriteBatch(ctx, w.collection, docs); err != nil {
		return relmigrate.NewBatchError(relmigrate.ErrCodeTargetWriteFailure, "write %d documents to %v", len(docs), w.collection, err)
	}
	return nil
}
