// Package index builds knowledge-base generations and manages their on-disk
// layout. Every build writes a fresh generation directory under the storage
// root; a CURRENT pointer file names the generation being served. The pointer
// is replaced atomically (write temp file, fsync, rename), so readers see
// either the old generation or the new one, never a mix.
package index

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// PointerFile names the file holding the current generation ID.
	PointerFile = "CURRENT"
	// SupersededFile lists generations replaced by a Swap and not yet pruned,
	// oldest first.
	SupersededFile = "SUPERSEDED"
	// genPrefix starts every generation directory name.
	genPrefix = "gen-"
)

// ErrNoGeneration is returned by Current when no generation has been
// published yet.
var ErrNoGeneration = errors.New("index: no current generation")

// Layout is the storage root holding generation directories and the pointer.
type Layout struct {
	// Root is the storage directory (e.g. ./storage_rag).
	Root string
}

// Init creates the storage root if needed.
func (l Layout) Init() error {
	if err := os.MkdirAll(l.Root, 0o755); err != nil {
		return fmt.Errorf("index: create storage root %s: %w", l.Root, err)
	}
	return nil
}

// PointerPath is the absolute location of the CURRENT file.
func (l Layout) PointerPath() string { return filepath.Join(l.Root, PointerFile) }

// Dir is the directory of generation id.
func (l Layout) Dir(id string) string { return filepath.Join(l.Root, id) }

// Current returns the published generation ID, or ErrNoGeneration.
func (l Layout) Current() (string, error) {
	data, err := os.ReadFile(l.PointerPath())
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNoGeneration
	}
	if err != nil {
		return "", fmt.Errorf("index: read pointer: %w", err)
	}
	id := strings.TrimSpace(string(data))
	if id == "" {
		return "", ErrNoGeneration
	}
	if !validID(id) {
		return "", fmt.Errorf("index: pointer names invalid generation %q", id)
	}
	return id, nil
}

// NewGeneration creates an empty, uniquely named generation directory.
// IDs sort by creation time.
func (l Layout) NewGeneration() (string, error) {
	if err := l.Init(); err != nil {
		return "", err
	}
	id := genPrefix + time.Now().UTC().Format("20060102T150405.000000000Z") + "-" + uuid.NewString()[:8]
	id = strings.ReplaceAll(id, ".", "")
	if err := os.Mkdir(l.Dir(id), 0o755); err != nil {
		return "", fmt.Errorf("index: create generation %s: %w", id, err)
	}
	return id, nil
}

// Swap publishes generation id by atomically replacing the pointer file. The
// generation it replaces is appended to the superseded list; only Prune
// removes it, once no process serves it any more.
func (l Layout) Swap(id string) error {
	if !validID(id) {
		return fmt.Errorf("index: invalid generation id %q", id)
	}
	if _, err := os.Stat(l.Dir(id)); err != nil {
		return fmt.Errorf("index: generation %s: %w", id, err)
	}
	// An unreadable pointer retires nothing.
	prev, _ := l.Current()

	if err := l.writeAtomic(PointerFile, id+"\n"); err != nil {
		return fmt.Errorf("index: publish pointer: %w", err)
	}
	if prev != "" && prev != id {
		if err := l.retire(prev); err != nil {
			return err
		}
	}
	return nil
}

// Superseded returns the generations replaced by earlier swaps, oldest
// first, without duplicates.
func (l Layout) Superseded() ([]string, error) {
	data, err := os.ReadFile(filepath.Join(l.Root, SupersededFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("index: read superseded list: %w", err)
	}
	seen := map[string]bool{}
	var ids []string
	for _, line := range strings.Split(string(data), "\n") {
		id := strings.TrimSpace(line)
		if validID(id) && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// retire appends id to the superseded list.
func (l Layout) retire(id string) error {
	f, err := os.OpenFile(filepath.Join(l.Root, SupersededFile), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("index: record superseded %s: %w", id, err)
	}
	if _, err := f.WriteString(id + "\n"); err != nil {
		_ = f.Close()
		return fmt.Errorf("index: record superseded %s: %w", id, err)
	}
	return f.Close()
}

// setSuperseded replaces the superseded list with ids.
func (l Layout) setSuperseded(ids []string) error {
	var sb strings.Builder
	for _, id := range ids {
		sb.WriteString(id)
		sb.WriteByte('\n')
	}
	if err := l.writeAtomic(SupersededFile, sb.String()); err != nil {
		return fmt.Errorf("index: rewrite superseded list: %w", err)
	}
	return nil
}

// writeAtomic replaces the file name under Root with data via a synced temp
// file and rename.
func (l Layout) writeAtomic(name, data string) error {
	tmp, err := os.CreateTemp(l.Root, name+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.WriteString(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, filepath.Join(l.Root, name)); err != nil {
		return err
	}
	syncDir(l.Root)
	return nil
}

// Generations lists generation IDs on disk, oldest first.
func (l Layout) Generations() ([]string, error) {
	entries, err := os.ReadDir(l.Root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("index: list %s: %w", l.Root, err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() && validID(e.Name()) {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Remove deletes the directory of generation id.
func (l Layout) Remove(id string) error {
	if !validID(id) {
		return fmt.Errorf("index: invalid generation id %q", id)
	}
	if err := os.RemoveAll(l.Dir(id)); err != nil {
		return fmt.Errorf("index: remove generation %s: %w", id, err)
	}
	return nil
}

// validID rejects anything that could escape the storage root.
func validID(id string) bool {
	return strings.HasPrefix(id, genPrefix) && !strings.ContainsAny(id, `/\`) && id != "." && id != ".."
}

// syncDir flushes a directory entry so a rename survives power loss. Errors
// are ignored: some platforms cannot open directories for sync.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
