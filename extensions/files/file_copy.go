package files

import (
	"context"
	"io"

	"github.com/bookshelf/relmigrate"
)

// FileMove names a file in one store and its copy in another.
type FileMove struct {
	FromFileName  string
	FromFileStore FileStore
	ToFileName    string
	ToFileStore   FileStore
}

// Copy copies every file of moves, stopping at the first failure.
func Copy(ctx context.Context, moves ...FileMove) relmigrate.BatchError {
	for _, fm := range moves {
		reader, err := fm.FromFileStore.Open(fm.FromFileName)
		if err != nil {
			return relmigrate.NewBatchError(relmigrate.ErrCodeGeneral, "open from file:%v err", fm.FromFileName, err)
		}

		writer, err := fm.ToFileStore.Create(fm.ToFileName)
		if err != nil {
			if er := reader.Close(); er != nil {
				relmigrate.DefaultLogger.Error(ctx, "close file reader:%v error:%v", fm.FromFileName, er)
			}
			return relmigrate.NewBatchError(relmigrate.ErrCodeGeneral, "open to file:%v err", fm.ToFileName, err)
		}

		_, err = io.Copy(writer, reader)

		if er := reader.Close(); er != nil {
			relmigrate.DefaultLogger.Error(ctx, "close file reader:%v error:%v", fm.FromFileName, er)
		}
		if er := writer.Close(); er != nil {
			relmigrate.DefaultLogger.Error(ctx, "close file writer:%v error:%v", fm.ToFileName, er)
			if err == nil {
				err = er
			}
		}
		if err != nil {
			return relmigrate.NewBatchError(relmigrate.ErrCodeGeneral, "copy file: %v -> %v error", fm.FromFileName, fm.ToFileName, err)
		}
	}
	return nil
}
