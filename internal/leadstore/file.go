package leadstore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/MrWong99/concierge/pkg/types"
)

// FileStore persists leads as append-only JSON lines in a local file. The
// file is replayed into memory when the store is opened, so reads never touch
// the disk. Suitable for a single instance with modest lead volume.
type FileStore struct {
	mu   sync.Mutex
	path string
	mem  *MemStore
}

var _ Store = (*FileStore)(nil)

// OpenFileStore loads the leads recorded in path and returns a store that
// appends new leads to it. The file is created on the first Save when it does
// not exist yet.
//
// A malformed last line, as left by a crash in the middle of an append, is
// logged and cut off so that later appends start on a clean line. A malformed
// line anywhere else is an error.
func OpenFileStore(path string) (*FileStore, error) {
	fs := &FileStore{path: path, mem: NewMemStore()}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return fs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("leadstore: open %q: %w", path, err)
	}
	defer f.Close()

	rd := bufio.NewReader(f)
	var (
		good int64 // offset just past the last intact line
		line int
		tail byte
	)
	for {
		b, readErr := rd.ReadBytes('\n')
		if len(b) > 0 {
			line++
			if err := fs.replay(b); err != nil {
				if _, peekErr := rd.Peek(1); !errors.Is(peekErr, io.EOF) {
					return nil, fmt.Errorf("leadstore: %s:%d: %w", path, line, err)
				}
				slog.Warn("leadstore: dropping torn last line", "path", path, "line", line, "error", err)
				if err := os.Truncate(path, good); err != nil {
					return nil, fmt.Errorf("leadstore: truncate %q: %w", path, err)
				}
				return fs, nil
			}
			good += int64(len(b))
			tail = b[len(b)-1]
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("leadstore: read %q: %w", path, readErr)
		}
	}
	if good > 0 && tail != '\n' {
		// The last lead parsed but lost its newline; restore it before the
		// next append.
		if err := appendNewline(path); err != nil {
			return nil, err
		}
	}
	return fs, nil
}

// replay decodes one recorded line into the in-memory index. Blank lines are
// ignored and later lines win if an id repeats.
func (s *FileStore) replay(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil
	}
	var lead types.Lead
	if err := json.Unmarshal(b, &lead); err != nil {
		return err
	}
	if lead.ID == "" {
		return errors.New("lead without id")
	}
	s.mem.mu.Lock()
	s.mem.leads[lead.ID] = lead
	s.mem.mu.Unlock()
	return nil
}

func appendNewline(path string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("leadstore: open file: %w", err)
	}
	_, err = f.Write([]byte{'\n'})
	return errors.Join(err, f.Close())
}

// Save implements [Store]. The lead is written to disk before it becomes
// visible to Get and List.
func (s *FileStore) Save(ctx context.Context, lead *types.Lead) error {
	if lead.ID == "" {
		return errors.New("leadstore: save: empty id")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.mem.Get(ctx, lead.ID); err == nil {
		return fmt.Errorf("leadstore: save %q: %w", lead.ID, ErrDuplicate)
	}

	data, err := json.Marshal(lead)
	if err != nil {
		return fmt.Errorf("leadstore: marshal: %w", err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("leadstore: open file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("leadstore: write: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("leadstore: close: %w", err)
	}
	return s.mem.Save(ctx, lead)
}

// Get implements [Store].
func (s *FileStore) Get(ctx context.Context, id string) (*types.Lead, error) {
	return s.mem.Get(ctx, id)
}

// List implements [Store].
func (s *FileStore) List(ctx context.Context, limit int) ([]types.Lead, error) {
	return s.mem.List(ctx, limit)
}
