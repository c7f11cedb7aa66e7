package target

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/wellsgz/pingmon/internal/logging"
)

// File formats understood by FileProvider
const (
	FormatYAML   = "yaml"
	FormatJSON   = "json"
	FormatLeases = "leases"
)

// FileProvider loads targets from a local file. Entries without a prefix
// get the provider's prefix.
//
// The leases format is a dnsmasq lease file, one lease per line:
//
//	<expiry> <mac> <ip> <hostname> [client-id]
//
// Each lease becomes a target with id=mac and address=ip.
type FileProvider struct {
	path   string
	format string
	prefix string
}

// NewFileProvider creates a provider for path
func NewFileProvider(path, format, prefix string) (*FileProvider, error) {
	switch format {
	case FormatYAML, FormatJSON, FormatLeases:
	default:
		return nil, fmt.Errorf("unknown target file format %q", format)
	}
	return &FileProvider{path: path, format: format, prefix: prefix}, nil
}

// Name returns "file:<path>"
func (p *FileProvider) Name() string {
	return "file:" + p.path
}

// Path returns the watched file path
func (p *FileProvider) Path() string {
	return p.path
}

// Fetch reads and parses the file
func (p *FileProvider) Fetch(_ context.Context) ([]Target, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read target file: %w", err)
	}

	var raw []Target
	switch p.format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse yaml targets: %w", err)
		}
	case FormatJSON:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse json targets: %w", err)
		}
	case FormatLeases:
		raw = parseLeases(data)
	}

	targets := make([]Target, 0, len(raw))
	for _, t := range raw {
		if t.Prefix == "" {
			t.Prefix = p.prefix
		}
		if err := t.Validate(); err != nil {
			logging.Warn("Registry", "skipping entry of "+p.path, err)
			continue
		}
		targets = append(targets, t)
	}
	return targets, nil
}

// parseLeases reads dnsmasq lease lines; short lines are ignored
func parseLeases(data []byte) []Target {
	var targets []Target
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}
		targets = append(targets, Target{ID: fields[1], Address: fields[2]})
	}
	return targets
}

// Watch calls onChange whenever the file is written, created or replaced,
// until ctx is done. The parent directory is watched so editors that swap
// files atomically are seen too.
func (p *FileProvider) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(p.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	name := filepath.Clean(p.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				logging.Debug("Registry", "target file changed: "+p.path)
				onChange()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Warn("Registry", "file watcher error", err)
		}
	}
}
