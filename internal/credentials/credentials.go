// Package credentials loads device pairing files from the lockdown directory.
package credentials

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"howett.net/plist"
)

var (
	// ErrNotFound reports that no pairing file exists for the device.
	ErrNotFound = errors.New("pairing file not found")
	// ErrInvalid reports a pairing file that could not be parsed or lacks host identity.
	ErrInvalid = errors.New("invalid pairing file")
)

// PairingFile is the host record produced when a device trusts this machine.
type PairingFile struct {
	HostID            string `plist:"HostID"`
	SystemBUID        string `plist:"SystemBUID"`
	UDID              string `plist:"UDID,omitempty"`
	WiFiMACAddress    string `plist:"WiFiMACAddress,omitempty"`
	DeviceCertificate []byte `plist:"DeviceCertificate"`
	HostCertificate   []byte `plist:"HostCertificate"`
	HostPrivateKey    []byte `plist:"HostPrivateKey"`
	RootCertificate   []byte `plist:"RootCertificate"`
	RootPrivateKey    []byte `plist:"RootPrivateKey,omitempty"`

	// Path is the file the record was read from.
	Path string `plist:"-"`
}

// Parse decodes a pairing file in any plist encoding.
func Parse(data []byte) (*PairingFile, error) {
	var file PairingFile
	if _, err := plist.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if strings.TrimSpace(file.HostID) == "" || strings.TrimSpace(file.SystemBUID) == "" {
		return nil, fmt.Errorf("%w: missing HostID or SystemBUID", ErrInvalid)
	}
	return &file, nil
}

type cached struct {
	file    *PairingFile
	modTime time.Time
}

// Store reads <dir>/<udid>.plist and caches parsed files until they change on
// disk or are invalidated.
type Store struct {
	dir   string
	cache *lru.Cache[string, cached]
}

// NewStore constructs a store over dir holding at most size parsed files.
func NewStore(dir string, size int) (*Store, error) {
	if size <= 0 {
		size = 256
	}
	cache, err := lru.New[string, cached](size)
	if err != nil {
		return nil, fmt.Errorf("create pairing cache: %w", err)
	}
	return &Store{dir: dir, cache: cache}, nil
}

// Path returns the expected pairing file location for udid.
func (s *Store) Path(udid string) string {
	return filepath.Join(s.dir, udid+".plist")
}

// Get returns the pairing file for udid.
func (s *Store) Get(udid string) (*PairingFile, error) {
	udid = strings.TrimSpace(udid)
	if udid == "" || strings.ContainsAny(udid, `/\`) || strings.Contains(udid, "..") {
		return nil, fmt.Errorf("%w: bad device identifier %q", ErrNotFound, udid)
	}
	path := s.Path(udid)

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.cache.Remove(udid)
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("stat pairing file: %w", err)
	}
	if entry, ok := s.cache.Get(udid); ok && entry.modTime.Equal(info.ModTime()) {
		return entry.file, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pairing file: %w", err)
	}
	file, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	file.Path = path
	s.cache.Add(udid, cached{file: file, modTime: info.ModTime()})
	return file, nil
}

// Invalidate drops any cached copy for udid.
func (s *Store) Invalidate(udid string) {
	s.cache.Remove(udid)
}

// Len reports how many pairing files are cached.
func (s *Store) Len() int {
	return s.cache.Len()
}
