package rlog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dsnet/compress/bzip2"
	"github.com/fxamacker/cbor/v2"
	"github.com/lk2023060901/drive-telemetry-backend/internal/pkg/logger"
	"go.uber.org/zap"
)

// CorruptSegmentError reports a log file that could not be decompressed or
// decoded. The segment is unprocessable for this attempt but the error is
// not fatal to the pipeline.
type CorruptSegmentError struct {
	Path string
	Err  error
}

func (e *CorruptSegmentError) Error() string {
	return fmt.Sprintf("corrupt segment log %s: %v", e.Path, e.Err)
}

func (e *CorruptSegmentError) Unwrap() error {
	return e.Err
}

// RecordFunc consumes one decoded record. Returning an error aborts the
// stream and is passed through to the Decode caller.
type RecordFunc func(*Record) error

// Decoder streams telemetry records out of bzip2-compressed log files.
type Decoder struct {
	logger *logger.Logger
}

// NewDecoder creates a log decoder
func NewDecoder(log *logger.Logger) *Decoder {
	return &Decoder{logger: log}
}

// Decode decompresses the log at path to a temporary sibling file, then
// feeds every record to fn in stream order. The temporary file is removed on
// all exit paths. Each call re-decompresses; the stream is not restartable.
func (d *Decoder) Decode(ctx context.Context, path string, fn RecordFunc) error {
	log := d.logger.WithContext(ctx)
	tmpPath := temporaryPath(path)

	if err := d.decompress(path, tmpPath); err != nil {
		// Decompression can die after partially writing the output.
		if rmErr := os.Remove(tmpPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			log.Warn("failed to remove temporary log file",
				zap.String("path", tmpPath),
				zap.Error(rmErr),
			)
		}
		return &CorruptSegmentError{Path: path, Err: err}
	}

	defer func() {
		if err := os.Remove(tmpPath); err != nil {
			log.Warn("failed to remove temporary log file",
				zap.String("path", tmpPath),
				zap.Error(err),
			)
		}
	}()

	raw, err := os.Open(tmpPath)
	if err != nil {
		return &CorruptSegmentError{Path: path, Err: err}
	}
	defer raw.Close()

	dec := cbor.NewDecoder(raw)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return &CorruptSegmentError{Path: path, Err: err}
		}

		if err := fn(&rec); err != nil {
			return err
		}
	}
}

// decompress writes the bzip2-decoded contents of src to dst.
func (d *Decoder) decompress(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	bz, err := bzip2.NewReader(in, nil)
	if err != nil {
		return err
	}
	defer bz.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, bz); err != nil {
		out.Close()
		return err
	}

	return out.Close()
}

// temporaryPath strips the compression suffix the same way the upload tree
// names raw files, falling back to a .raw sibling for unexpected names.
func temporaryPath(path string) string {
	if strings.HasSuffix(path, ".bz2") {
		return strings.TrimSuffix(path, ".bz2")
	}
	return path + ".raw"
}
