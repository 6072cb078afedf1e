package persistence

import (
	"consentsync/internal/providers"
	"consentsync/internal/structures"
	"fmt"
	"os"

	json "github.com/goccy/go-json"
)

type FileManager struct {
	compressor SnapshotCompressor
	logger     providers.Logger
}

func NewFileManager(compressor SnapshotCompressor, logger providers.Logger) *FileManager {
	return &FileManager{
		compressor: compressor,
		logger:     logger,
	}
}

func (f *FileManager) SaveToFile(fileName string, snap *Snapshot) error {
	jsonData, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	data, err := f.compressor.Compress(jsonData)
	if err != nil {
		return err
	}

	tmpFile := fileName + ".tmp"
	file, err := os.Create(tmpFile)
	if err != nil {
		return err
	}

	_, err = file.Write(data)
	if err != nil {
		file.Close()
		os.Remove(tmpFile)
		return err
	}

	if err = file.Sync(); err != nil {
		file.Close()
		os.Remove(tmpFile)
		return err
	}

	if err = file.Close(); err != nil {
		os.Remove(tmpFile)
		return err
	}

	return os.Rename(tmpFile, fileName)
}

// LoadFromFile reads a snapshot. A missing file yields an empty snapshot.
func (f *FileManager) LoadFromFile(fileName string) (*Snapshot, error) {
	data, err := os.ReadFile(fileName)
	if err != nil {
		if os.IsNotExist(err) {
			return NewSnapshot(), nil
		}
		return nil, err
	}

	decompressedData, err := f.compressor.Decompress(data)
	if err != nil {
		return nil, err
	}

	var snap Snapshot
	if err := json.Unmarshal(decompressedData, &snap); err != nil {
		return nil, err
	}
	if snap.Version != SnapshotVersion {
		f.logger.Warnf(providers.TypeApp, "Discarding snapshot with unsupported version %d", snap.Version)
		return NewSnapshot(), nil
	}
	if snap.Entries == nil {
		snap.Entries = make(map[string]*Entry)
	}
	if snap.Values == nil {
		snap.Values = make(map[string]string)
	}
	return &snap, nil
}

// OpenStore builds the durable store from the snapshot file so that domain
// stores can seed from it during construction.
func OpenStore(fileName string, fm *FileManager, logger providers.Logger) (*Store, error) {
	store := NewEmptyStore()
	snap, err := fm.LoadFromFile(fileName)
	if err != nil {
		return nil, fmt.Errorf("unable to restore snapshot %s: %w", fileName, err)
	}
	store.Replace(snap)
	logger.Infof(providers.TypeApp, "Restored %d cache entries from %s", len(snap.Entries), fileName)
	return store, nil
}

func NewDurableStore(conf *structures.Config, fm *FileManager, logger providers.Logger) (*Store, error) {
	return OpenStore(conf.Persistence.FilePath, fm, logger)
}
