package quotes

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Cache is a file-based JSON cache keyed by source, method, and a hash of
// the request parameters. Expiry is judged from the file's mtime.
type Cache struct {
	dir     string
	ttl     time.Duration
	enabled bool
}

func NewCache(dir string, ttl time.Duration, enabled bool) *Cache {
	return &Cache{dir: dir, ttl: ttl, enabled: enabled}
}

func (c *Cache) key(source, method string, params interface{}) string {
	data, _ := json.Marshal(params)
	hash := md5.Sum(data)
	return fmt.Sprintf("%s_%s_%x.json", source, method, hash)
}

// Get loads a fresh cached entry into result and reports whether it hit.
func (c *Cache) Get(source, method string, params, result interface{}) bool {
	if c == nil || !c.enabled {
		return false
	}

	path := filepath.Join(c.dir, c.key(source, method, params))
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if time.Since(info.ModTime()) > c.ttl {
		os.Remove(path)
		return false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return json.Unmarshal(data, result) == nil
}

// Set stores data for later Get calls. A disabled cache accepts and drops.
func (c *Cache) Set(source, method string, params, data interface{}) error {
	if c == nil || !c.enabled {
		return nil
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return err
	}
	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.dir, c.key(source, method, params)), encoded, 0o644)
}
