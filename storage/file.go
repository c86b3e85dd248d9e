package storage

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/krantius/raftcore/raft"
)

const (
	hardStateFile = "hardstate.json"
	logFile       = "log.bin"

	// MaxEntrySize bounds the data of one entry on disk.
	MaxEntrySize = 64 << 20
)

var errEntryTooLarge = errors.New("entry exceeds maximum size")

// FileStorage persists to two files in a directory:
//   - hardstate.json holds the JSON HardState, replaced atomically via rename
//   - log.bin holds length-prefixed entries (term, index, len, data), appended
//     in place and rewritten when a suffix is replaced
type FileStorage struct {
	mu      sync.Mutex
	hsPath  string
	logPath string
	last    raft.Index
	logger  logrus.FieldLogger
}

// NewFileStorage opens the store in dir, creating it if missing.
func NewFileStorage(dir string, logger logrus.FieldLogger) (*FileStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	fs := &FileStorage{
		hsPath:  filepath.Join(dir, hardStateFile),
		logPath: filepath.Join(dir, logFile),
		logger:  logger.WithField("dir", dir),
	}

	_, entries, err := fs.Load()
	if err != nil {
		return nil, err
	}
	fs.last = raft.Index(len(entries))

	return fs, nil
}

func (fs *FileStorage) Load() (raft.HardState, []raft.LogEntry, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	var hs raft.HardState
	b, err := os.ReadFile(fs.hsPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return hs, nil, err
	default:
		if err := json.Unmarshal(b, &hs); err != nil {
			return hs, nil, fmt.Errorf("%s: %v: %w", hardStateFile, err, ErrCorrupt)
		}
	}

	entries, err := fs.readLog()
	if err != nil {
		return hs, nil, err
	}

	return hs, entries, nil
}

func (fs *FileStorage) Save(hs *raft.HardState, entries []raft.LogEntry) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	// Entries before HardState, so a vote is never durable ahead of its log.
	if len(entries) > 0 {
		if err := fs.saveEntries(entries); err != nil {
			return err
		}
	}
	if hs != nil {
		if err := fs.saveHardState(*hs); err != nil {
			return err
		}
	}
	return nil
}

func (fs *FileStorage) saveHardState(hs raft.HardState) error {
	b, err := json.Marshal(hs)
	if err != nil {
		return err
	}
	tmp := fs.hsPath + ".tmp"
	if err := writeFileSync(tmp, b); err != nil {
		return err
	}
	return os.Rename(tmp, fs.hsPath)
}

func (fs *FileStorage) saveEntries(entries []raft.LogEntry) error {
	first := entries[0].Index
	if first == 0 || first > fs.last+1 {
		return fmt.Errorf("write at %d with last index %d: %w", first, fs.last, raft.ErrLogIndexGap)
	}

	if first == fs.last+1 {
		if err := fs.appendLog(entries); err != nil {
			return err
		}
	} else {
		stored, err := fs.readLog()
		if err != nil {
			return err
		}
		next, err := splice(stored, entries)
		if err != nil {
			return err
		}
		fs.logger.WithFields(logrus.Fields{"from": first, "dropped": len(stored) - int(first) + 1}).Debug("Rewriting log suffix")
		if err := fs.rewriteLog(next); err != nil {
			return err
		}
	}

	fs.last = entries[len(entries)-1].Index
	return nil
}

func (fs *FileStorage) appendLog(entries []raft.LogEntry) error {
	f, err := os.OpenFile(fs.logPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, e := range entries {
		if err := writeEntry(w, e); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Sync()
}

func (fs *FileStorage) rewriteLog(entries []raft.LogEntry) error {
	tmpPath := fs.logPath + ".tmp"
	tmp, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	defer tmp.Close()

	w := bufio.NewWriter(tmp)
	for _, e := range entries {
		if err := writeEntry(w, e); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	return os.Rename(tmpPath, fs.logPath)
}

func (fs *FileStorage) readLog() ([]raft.LogEntry, error) {
	f, err := os.Open(fs.logPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []raft.LogEntry
	r := bufio.NewReader(f)
	for {
		e, err := readEntry(r)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%s after index %d: %v: %w", logFile, len(out), err, ErrCorrupt)
		}
		if e.Index != raft.Index(len(out))+1 {
			return nil, fmt.Errorf("%s: entry %d out of order: %w", logFile, e.Index, ErrCorrupt)
		}
		out = append(out, e)
	}
}

func writeFileSync(path string, b []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeEntry(w *bufio.Writer, e raft.LogEntry) error {
	if len(e.Data) > MaxEntrySize {
		return fmt.Errorf("entry %d has %d bytes: %w", e.Index, len(e.Data), errEntryTooLarge)
	}
	hdr := [3]uint64{uint64(e.Term), uint64(e.Index), uint64(len(e.Data))}
	if err := binary.Write(w, binary.LittleEndian, hdr); err != nil {
		return err
	}
	_, err := w.Write(e.Data)
	return err
}

// readEntry returns io.EOF only at a clean entry boundary.
func readEntry(r *bufio.Reader) (raft.LogEntry, error) {
	var hdr [3]uint64
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return raft.LogEntry{}, err
	}

	e := raft.LogEntry{Term: raft.Term(hdr[0]), Index: raft.Index(hdr[1])}
	n := hdr[2]
	if n > MaxEntrySize {
		return raft.LogEntry{}, fmt.Errorf("entry %d claims %d bytes: %w", hdr[1], n, errEntryTooLarge)
	}
	if n > 0 {
		e.Data = make([]byte, n)
		if _, err := io.ReadFull(r, e.Data); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return raft.LogEntry{}, err
		}
	}
	return e, nil
}
