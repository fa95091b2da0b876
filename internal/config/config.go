// Package config loads and partially persists appsettings.json and the
// device identity pinned to this physical unit (§3 Device identity,
// §6 Filesystem). Grounded on slqrpdf's internal/config.go: load once,
// default sanely on a missing file, and never clobber unrelated keys
// when rewriting a single field.
package config

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sync"
)

// SenderReceiverSet mirrors the on-disk shape of the one JSON block this
// process is allowed to mutate.
type SenderReceiverSet struct {
	NCBIP string `json:"NCBIP"`
}

// AppSettings is the subset of appsettings.json this core cares about.
// Unknown top-level keys are preserved via the raw map kept alongside.
type AppSettings struct {
	DeviceID          string            `json:"DeviceId"`
	OwnerID           string            `json:"OwnerId"`
	UpstreamURL       string            `json:"UpstreamUrl"`
	AllowHotspot      bool              `json:"AllowHotspot"`
	SenderReceiverSet SenderReceiverSet `json:"SenderReceiverSet"`
}

// Store owns appsettings.json: the typed view, the raw overlay used to
// preserve unrelated keys on write, and the file path.
type Store struct {
	mu       sync.Mutex
	path     string
	settings AppSettings
	raw      map[string]interface{}
}

var (
	defaultStore *Store
	loadOnce     sync.Once
)

// Load reads appsettings.json from dir (the binary's directory per §6).
// A missing file is not fatal: it yields zero-value settings so the
// caller can still construct device identity from elsewhere (tests use
// this to avoid fixture files).
func Load(dir string) (*Store, error) {
	path := filepath.Join(dir, "appsettings.json")
	s := &Store{path: path, raw: map[string]interface{}{}}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := json.Unmarshal(data, &s.settings); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &s.raw); err != nil {
		return nil, fmt.Errorf("config: parse %s as map: %w", path, err)
	}

	return s, nil
}

// LoadDefault loads appsettings.json from the executable's directory
// exactly once per process, caching the result.
func LoadDefault() (*Store, error) {
	var err error
	loadOnce.Do(func() {
		exe, e := os.Executable()
		if e != nil {
			err = e
			return
		}
		defaultStore, err = Load(filepath.Dir(exe))
	})
	return defaultStore, err
}

// Settings returns a copy of the currently loaded settings.
func (s *Store) Settings() AppSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// SetNCBIP persists a new NCBIP value, overwriting only
// SenderReceiverSet.NCBIP in the on-disk JSON and leaving every other
// key — known or unknown to this struct — untouched (§6 Filesystem).
func (s *Store) SetNCBIP(ncbip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings.SenderReceiverSet.NCBIP = ncbip

	srs, _ := s.raw["SenderReceiverSet"].(map[string]interface{})
	if srs == nil {
		srs = map[string]interface{}{}
	}
	srs["NCBIP"] = ncbip
	s.raw["SenderReceiverSet"] = srs

	data, err := json.MarshalIndent(s.raw, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("config: write temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("config: rename temp file: %w", err)
	}
	return nil
}

// Identity is the device's persistent identity (§3 Device identity).
type Identity struct {
	DID string
	UID string
}

// HotspotSSID derives the hotspot SSID from the device id:
// NCBEdge_<last6>, where last6 is the last 6 alphanumeric characters of
// the DID with separators stripped (EDGE-00AB-CD12 -> NCBEdge_ABCD12).
func (id Identity) HotspotSSID() string {
	var alnum []byte
	for i := 0; i < len(id.DID); i++ {
		c := id.DID[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			alnum = append(alnum, c)
		}
	}
	if len(alnum) > 6 {
		alnum = alnum[len(alnum)-6:]
	}
	return "NCBEdge_" + string(alnum)
}

// ServiceUUID derives the Bluetooth service UUID from the device id:
// 12345678-1234-5678-1234-56789abc<hash8(DID)>, where hash8 is the
// lowercase hex of abs(FNV-32a(DID)) zero-padded to 8 characters.
func (id Identity) ServiceUUID() string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id.DID))
	sum := h.Sum32()
	return fmt.Sprintf("12345678-1234-5678-1234-56789abc%08x", sum)
}

// PrivateKeyPath returns the path to this device's pinned RSA private
// key file (§6 Filesystem: Cert/<DID>_private_key.pem).
func (id Identity) PrivateKeyPath(certDir string) string {
	return filepath.Join(certDir, id.DID+"_private_key.pem")
}
