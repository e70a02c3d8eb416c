package writer

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	pqwriter "github.com/xitongsys/parquet-go/writer"

	appconfig "atmflow/config"
	"atmflow/internal/metadata"
	"atmflow/logger"
)

// ArchiveRow is one metric of one archived record in long format.
type ArchiveRow struct {
	Tracker string   `parquet:"name=tracker, type=BYTE_ARRAY, convertedtype=UTF8"`
	Date    string   `parquet:"name=date, type=BYTE_ARRAY, convertedtype=UTF8"`
	Time    string   `parquet:"name=time, type=BYTE_ARRAY, convertedtype=UTF8"`
	Strike  int64    `parquet:"name=strike, type=INT64"`
	Metric  string   `parquet:"name=metric, type=BYTE_ARRAY, convertedtype=UTF8"`
	Value   *float64 `parquet:"name=value, type=DOUBLE, repetitiontype=OPTIONAL"`
}

type memFile struct {
	buffer *bytes.Buffer
}

func newMemFile() *memFile {
	return &memFile{buffer: &bytes.Buffer{}}
}

func (m *memFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memFile) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memFile) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memFile) Read([]byte) (int, error)                  { return 0, fmt.Errorf("read not supported") }
func (m *memFile) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memFile) Close() error                              { return nil }
func (m *memFile) Bytes() []byte                             { return m.buffer.Bytes() }

// ParquetArchiver writes rolled-over series as parquet files through a
// backend and records each file in a per-table manifest.
type ParquetArchiver struct {
	backend     Backend
	prefix      string
	compression parquet.CompressionCodec

	mu        sync.Mutex
	manifests map[string]*metadata.Manifest
	log       *logger.Log
}

func NewParquetArchiver(backend Backend, cfg appconfig.ArchiveConfig) *ParquetArchiver {
	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix == "" {
		prefix = "archive"
	}
	return &ParquetArchiver{
		backend:     backend,
		prefix:      prefix,
		compression: compressionCodec(cfg.Compression),
		manifests:   make(map[string]*metadata.Manifest),
		log:         logger.GetLogger(),
	}
}

func compressionCodec(name string) parquet.CompressionCodec {
	switch strings.ToLower(name) {
	case "snappy":
		return parquet.CompressionCodec_SNAPPY
	case "gzip":
		return parquet.CompressionCodec_GZIP
	default:
		return parquet.CompressionCodec_UNCOMPRESSED
	}
}

// Archive encodes rows and stores them as <prefix>/<table>_<date>_<uuid>.parquet.
func (a *ParquetArchiver) Archive(ctx context.Context, table, date string, rows []ArchiveRow) error {
	if len(rows) == 0 {
		return nil
	}
	entry := a.log.WithComponent("archiver").WithFields(logger.Fields{
		"table": table,
		"date":  date,
		"rows":  len(rows),
	})

	data, err := encodeParquet(rows, a.compression)
	if err != nil {
		return err
	}

	name := path.Join(a.prefix, fmt.Sprintf("%s_%s_%s.parquet", table, date, uuid.NewString()))
	if err := a.backend.Write(ctx, name, data); err != nil {
		return fmt.Errorf("store archive: %w", err)
	}

	df := metadata.DataFile{
		Path:        name,
		FileSize:    int64(len(data)),
		RecordCount: int64(len(rows)),
		Partition:   map[string]any{"table": table, "date": date},
		Timestamp:   time.Now().UTC(),
	}
	if err := a.manifest(ctx, table).AddFile(ctx, df); err != nil {
		entry.WithError(err).Warn("failed to update archive manifest")
	}

	logger.LogDataFlowEntry(entry, "series_store", a.backend.Kind(), len(rows), "archive")
	entry.WithFields(logger.Fields{"object": name, "file_size": len(data)}).Info("series archived")
	return nil
}

func (a *ParquetArchiver) manifest(ctx context.Context, table string) *metadata.Manifest {
	a.mu.Lock()
	defer a.mu.Unlock()
	if m, ok := a.manifests[table]; ok {
		return m
	}
	m := metadata.NewManifest(a.backend, a.prefix, table)
	if err := m.Load(ctx); err != nil {
		a.log.WithComponent("archiver").WithFields(logger.Fields{"table": table}).Debug("starting new archive manifest")
	}
	a.manifests[table] = m
	return m
}

func encodeParquet(rows []ArchiveRow, codec parquet.CompressionCodec) ([]byte, error) {
	mem := newMemFile()
	pw, err := pqwriter.NewParquetWriter(mem, new(ArchiveRow), 1)
	if err != nil {
		return nil, fmt.Errorf("new parquet writer: %w", err)
	}
	pw.CompressionType = codec

	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("write parquet record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("finalize parquet: %w", err)
	}
	return mem.Bytes(), nil
}
