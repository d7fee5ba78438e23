package storage

import (
	"bufio"
	"context"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/annel0/blastguard/internal/durability"
	"github.com/annel0/blastguard/internal/logging"
	"github.com/klauspost/compress/zstd"
)

const fileSnapshotVersion = 1

// FileHeader первая строка файла снимка (JSON)
type FileHeader struct {
	Version int       `json:"version"`
	Entries int       `json:"entries"`
	SavedAt time.Time `json:"saved_at"`
}

type fileEntry struct {
	World  uint64
	X      int32
	Y      int32
	Z      int32
	Damage int32
}

// FileStore хранит снимок в одном файле: zstd-поток с JSON-заголовком
// в первой строке и gob-списком записей после него.
type FileStore struct {
	path   string
	mu     sync.Mutex
	logger *logging.Logger
}

// NewFileStore создаёт хранилище файла path. Файл создаётся при первом сохранении.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, logger: logging.GetStorageLogger()}
}

// Load читает снимок. Отсутствующий файл даёт пустой снимок.
// Повреждённый файл удаляется и пересоздаётся пустым.
func (fs *FileStore) Load(ctx context.Context) (map[durability.BlockKey]int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	data, err := fs.read()
	switch {
	case err == nil:
		return data, nil
	case errors.Is(err, os.ErrNotExist):
		return make(map[durability.BlockKey]int), nil
	case errors.Is(err, ErrCorruptSnapshot):
		fs.logger.Error("Файл %s повреждён, создаётся пустой снимок: %v", fs.path, err)
		if rmErr := os.Remove(fs.path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			return nil, fmt.Errorf("удаление повреждённого снимка: %w", rmErr)
		}
		empty := make(map[durability.BlockKey]int)
		if wErr := fs.write(ctx, empty); wErr != nil {
			return nil, wErr
		}
		return empty, nil
	default:
		return nil, err
	}
}

func (fs *FileStore) read() (map[durability.BlockKey]int, error) {
	f, err := os.Open(fs.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	defer dec.Close()

	br := bufio.NewReader(dec)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("%w: заголовок: %v", ErrCorruptSnapshot, err)
	}
	var hdr FileHeader
	if err := json.Unmarshal(line, &hdr); err != nil {
		return nil, fmt.Errorf("%w: заголовок: %v", ErrCorruptSnapshot, err)
	}
	if hdr.Version != fileSnapshotVersion {
		return nil, fmt.Errorf("%w: неподдерживаемая версия %d", ErrCorruptSnapshot, hdr.Version)
	}

	var entries []fileEntry
	if err := gob.NewDecoder(br).Decode(&entries); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: gob decode: %v", ErrCorruptSnapshot, err)
	}
	if len(entries) != hdr.Entries {
		return nil, fmt.Errorf("%w: ожидалось %d записей, прочитано %d", ErrCorruptSnapshot, hdr.Entries, len(entries))
	}

	out := make(map[durability.BlockKey]int, len(entries))
	for _, e := range entries {
		key := durability.BlockKey{World: durability.WorldID(e.World), X: e.X, Y: e.Y, Z: e.Z}
		out[key] = int(e.Damage)
	}
	return out, nil
}

// Save атомарно перезаписывает файл снимка
func (fs *FileStore) Save(ctx context.Context, data map[durability.BlockKey]int) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.write(ctx, data)
}

func (fs *FileStore) write(ctx context.Context, data map[durability.BlockKey]int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fs.path), 0o755); err != nil {
		return err
	}

	tmp := fs.path + ".tmp"
	if err := writeSnapshotFile(tmp, data); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, fs.path); err != nil {
		return fmt.Errorf("замена файла снимка: %w", err)
	}
	return nil
}

func writeSnapshotFile(path string, data map[durability.BlockKey]int) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := encodeSnapshot(f, data); err != nil {
		return err
	}
	return f.Sync()
}

// encodeSnapshot пишет в w сжатые заголовок и записи снимка
func encodeSnapshot(w io.Writer, data map[durability.BlockKey]int) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	entries := make([]fileEntry, 0, len(data))
	for k, damage := range data {
		entries = append(entries, fileEntry{World: uint64(k.World), X: k.X, Y: k.Y, Z: k.Z, Damage: int32(damage)})
	}

	bw := bufio.NewWriterSize(enc, 64*1024)
	hb, _ := json.Marshal(FileHeader{Version: fileSnapshotVersion, Entries: len(entries), SavedAt: time.Now().UTC()})
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(entries); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return enc.Close()
}

func (fs *FileStore) Close() error { return nil }
