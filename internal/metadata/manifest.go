package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is the object store the manifest is written through.
type Store interface {
	Read(ctx context.Context, name string) ([]byte, error)
	Write(ctx context.Context, name string, data []byte) error
}

// DataFile describes one archived parquet file.
type DataFile struct {
	Path        string         `json:"path"`
	FileSize    int64          `json:"file_size_in_bytes"`
	RecordCount int64          `json:"record_count"`
	Partition   map[string]any `json:"partition"`
	Timestamp   time.Time      `json:"-"`
}

// ManifestEntry wraps a data file with its status (1 = added).
type ManifestEntry struct {
	Status   int      `json:"status"`
	DataFile DataFile `json:"data_file"`
}

// Snapshot points at the manifest written for one archived file.
type Snapshot struct {
	SnapshotID  int64  `json:"snapshot-id"`
	TimestampMs int64  `json:"timestamp-ms"`
	Manifest    string `json:"manifest-list"`
}

// TableMetadata is the metadata.json document of an archive table.
type TableMetadata struct {
	FormatVersion     int        `json:"format-version"`
	TableUUID         string     `json:"table-uuid"`
	Name              string     `json:"name"`
	Location          string     `json:"location"`
	CurrentSnapshotID int64      `json:"current-snapshot-id"`
	Snapshots         []Snapshot `json:"snapshots"`
}

// Manifest tracks the parquet files archived for one table (one tracker).
type Manifest struct {
	store     Store
	basePath  string
	tableName string

	mu        sync.Mutex
	tableUUID string
	snapshots []Snapshot
}

// NewManifest returns a manifest rooted at basePath/tableName.
func NewManifest(store Store, basePath, tableName string) *Manifest {
	return &Manifest{
		store:     store,
		basePath:  basePath,
		tableName: tableName,
		tableUUID: uuid.NewString(),
	}
}

func (m *Manifest) metadataPath() string {
	return path.Join(m.basePath, "_metadata", m.tableName, "metadata.json")
}

// Load resumes from a previously written metadata.json.
func (m *Manifest) Load(ctx context.Context) error {
	data, err := m.store.Read(ctx, m.metadataPath())
	if err != nil {
		return err
	}
	var tm TableMetadata
	if err := json.Unmarshal(data, &tm); err != nil {
		return fmt.Errorf("decode table metadata: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if tm.TableUUID != "" {
		m.tableUUID = tm.TableUUID
	}
	m.snapshots = tm.Snapshots
	return nil
}

// AddFile writes a manifest for df and republishes the table metadata.
func (m *Manifest) AddFile(ctx context.Context, df DataFile) error {
	if df.Timestamp.IsZero() {
		df.Timestamp = time.Now().UTC()
	}
	snapID := df.Timestamp.UnixNano()
	manifestFile := fmt.Sprintf("manifest-%d.json", snapID)

	b, err := json.Marshal([]ManifestEntry{{Status: 1, DataFile: df}})
	if err != nil {
		return err
	}
	if err := m.store.Write(ctx, path.Join(m.basePath, "_metadata", m.tableName, manifestFile), b); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	m.mu.Lock()
	m.snapshots = append(m.snapshots, Snapshot{
		SnapshotID:  snapID,
		TimestampMs: df.Timestamp.UnixMilli(),
		Manifest:    manifestFile,
	})
	tm := TableMetadata{
		FormatVersion:     2,
		TableUUID:         m.tableUUID,
		Name:              m.tableName,
		Location:          m.basePath,
		CurrentSnapshotID: snapID,
		Snapshots:         append([]Snapshot(nil), m.snapshots...),
	}
	m.mu.Unlock()

	meta, err := json.MarshalIndent(tm, "", "  ")
	if err != nil {
		return err
	}
	return m.store.Write(ctx, m.metadataPath(), meta)
}

// Snapshots returns the recorded snapshots, oldest first.
func (m *Manifest) Snapshots() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Snapshot(nil), m.snapshots...)
}
