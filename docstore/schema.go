package docstore

import (
	"context"

	"github.com/pkg/errors"

	"github.com/bookshelf/relmigrate"
)

// EnsureSchema creates the missing target collections and (re)installs validators and
// indexes on all of them. It can run any number of times.
func EnsureSchema(ctx context.Context, store Store) error {
	for _, c := range Collections() {
		exists, err := store.HasCollection(ctx, c.Name)
		if err != nil {
			return errors.Wrapf(err, "check collection %s", c.Name)
		}
		if !exists {
			if err = store.CreateCollection(ctx, c.Name); err != nil {
				return errors.Wrapf(err, "create collection %s", c.Name)
			}
			relmigrate.DefaultLogger.Info(ctx, "collection created: %v", c.Name)
		}
		if err = store.ApplyValidator(ctx, c.Name, c.Schema); err != nil {
			return errors.Wrapf(err, "apply validator to %s", c.Name)
		}
		for _, index := range c.Indexes {
			if err = store.CreateIndex(ctx, c.Name, index); err != nil {
				return errors.Wrapf(err, "create index %s", index.Name)
			}
		}
	}
	return nil
}

// DropAll removes every target collection.
func DropAll(ctx context.Context, store Store) error {
	for _, c := range Collections() {
		if err := store.Drop(ctx, c.Name); err != nil {
			return errors.Wrapf(err, "drop collection %s", c.Name)
		}
		relmigrate.DefaultLogger.Info(ctx, "collection dropped: %v", c.Name)
	}
	return nil
}
