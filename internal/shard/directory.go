// Package shard locates the physical store holding a library's data.
//
// The shard directory is a TOML file:
//
//	default_shard = 1
//
//	[[shards]]
//	id = 1
//	database_url = "postgres://localhost/searches_1?sslmode=disable"
//
//	[[libraries]]
//	library_id = 42
//	shard = 2
//
// Libraries without an explicit assignment live on the default shard.
package shard

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/BurntSushi/toml"
)

// ErrUnknownShard is returned when a shard id is not in the directory.
var ErrUnknownShard = errors.New("unknown shard")

// Config describes one shard database.
type Config struct {
	ID          int    `toml:"id"`
	DatabaseURL string `toml:"database_url"`
}

// Assignment pins a library to a shard.
type Assignment struct {
	LibraryID int64 `toml:"library_id"`
	Shard     int   `toml:"shard"`
}

type directoryFile struct {
	DefaultShard int          `toml:"default_shard"`
	Shards       []Config     `toml:"shards"`
	Libraries    []Assignment `toml:"libraries"`
}

// directoryState is one consistent snapshot of the directory file.
type directoryState struct {
	defaultShard int
	shards       map[int]Config
	libraries    map[int64]int
}

// Directory maps libraries to shards. It is safe for concurrent use and can
// be reloaded in place.
type Directory struct {
	path string

	mu    sync.RWMutex
	state *directoryState
}

// LoadDirectory reads and validates the directory file at path.
func LoadDirectory(path string) (*Directory, error) {
	d := &Directory{path: path}
	if err := d.Reload(); err != nil {
		return nil, err
	}
	return d, nil
}

// ParseDirectory builds a Directory from TOML data. The result cannot be reloaded.
func ParseDirectory(data []byte) (*Directory, error) {
	st, err := parseState(data)
	if err != nil {
		return nil, err
	}
	return &Directory{state: st}, nil
}

// Path returns the file the directory was loaded from.
func (d *Directory) Path() string {
	return d.path
}

// Reload re-reads the directory file. On failure the previous mapping is kept.
func (d *Directory) Reload() error {
	if d.path == "" {
		return errors.New("shard directory has no backing file")
	}
	data, err := os.ReadFile(d.path)
	if err != nil {
		return fmt.Errorf("read shard directory: %w", err)
	}
	st, err := parseState(data)
	if err != nil {
		return fmt.Errorf("%s: %w", d.path, err)
	}
	d.mu.Lock()
	d.state = st
	d.mu.Unlock()
	return nil
}

// ShardForLibrary returns the shard id holding libraryID.
func (d *Directory) ShardForLibrary(libraryID int64) (int, error) {
	if libraryID <= 0 {
		return 0, fmt.Errorf("invalid library id %d", libraryID)
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if id, ok := d.state.libraries[libraryID]; ok {
		return id, nil
	}
	return d.state.defaultShard, nil
}

// Shard returns the configuration of shard id.
func (d *Directory) Shard(id int) (Config, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.state.shards[id]
	if !ok {
		return Config{}, fmt.Errorf("%w: %d", ErrUnknownShard, id)
	}
	return c, nil
}

// Shards returns every configured shard ordered by id.
func (d *Directory) Shards() []Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Config, 0, len(d.state.shards))
	for _, c := range d.state.shards {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func parseState(data []byte) (*directoryState, error) {
	var f directoryFile
	if _, err := toml.Decode(string(data), &f); err != nil {
		return nil, fmt.Errorf("parse shard directory: %w", err)
	}
	if len(f.Shards) == 0 {
		return nil, errors.New("shard directory defines no shards")
	}

	st := &directoryState{
		defaultShard: f.DefaultShard,
		shards:       make(map[int]Config, len(f.Shards)),
		libraries:    make(map[int64]int, len(f.Libraries)),
	}
	for _, s := range f.Shards {
		if s.DatabaseURL == "" {
			return nil, fmt.Errorf("shard %d: database_url is required", s.ID)
		}
		if _, dup := st.shards[s.ID]; dup {
			return nil, fmt.Errorf("shard %d defined twice", s.ID)
		}
		st.shards[s.ID] = s
	}
	if _, ok := st.shards[st.defaultShard]; !ok {
		return nil, fmt.Errorf("default_shard: %w: %d", ErrUnknownShard, st.defaultShard)
	}
	for _, a := range f.Libraries {
		if _, ok := st.shards[a.Shard]; !ok {
			return nil, fmt.Errorf("library %d: %w: %d", a.LibraryID, ErrUnknownShard, a.Shard)
		}
		st.libraries[a.LibraryID] = a.Shard
	}
	return st, nil
}
