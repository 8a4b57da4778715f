package models

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// ManifestFile is the human-readable summary written into every backup directory.
	ManifestFile = "backup-info.txt"
	// TimestampLayout names backup directories, e.g. 20240131_235959.
	TimestampLayout = "20060102_150405"
	// ArchiveSuffix is the extension of every archive in a backup directory.
	ArchiveSuffix = ".tar.gz"
)

// Manifest describes a backup for humans. Restore never reads it.
type Manifest struct {
	Host      string
	Timestamp string
	Date      string
	Volumes   []string
}

// NewManifest builds the manifest for a backup taken at t.
func NewManifest(host string, t time.Time, volumes []string) *Manifest {
	return &Manifest{
		Host:      host,
		Timestamp: t.Format(TimestampLayout),
		Date:      t.Format(time.UnixDate),
		Volumes:   append([]string(nil), volumes...),
	}
}

// Render produces the text stored in backup-info.txt.
func (m *Manifest) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Host: %s\n", m.Host)
	fmt.Fprintf(&b, "Timestamp: %s\n", m.Timestamp)
	fmt.Fprintf(&b, "Date: %s\n", m.Date)
	fmt.Fprintf(&b, "Volume Count: %d\n", len(m.Volumes))
	b.WriteString("Volumes:\n")
	for _, v := range m.Volumes {
		fmt.Fprintf(&b, "  - %s\n", v)
	}
	return b.String()
}

// ParseManifest reads a rendered manifest. Unknown lines are ignored.
func ParseManifest(text string) (*Manifest, error) {
	m := &Manifest{}
	count := -1
	inVolumes := false

	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := scanner.Text()
		if inVolumes {
			if item, ok := strings.CutPrefix(strings.TrimSpace(line), "- "); ok {
				m.Volumes = append(m.Volumes, item)
				continue
			}
			inVolumes = false
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch key {
		case "Host":
			m.Host = value
		case "Timestamp":
			m.Timestamp = value
		case "Date":
			m.Date = value
		case "Volume Count":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("invalid volume count %q: %w", value, err)
			}
			count = n
		case "Volumes":
			inVolumes = true
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	if m.Host == "" && m.Timestamp == "" {
		return nil, fmt.Errorf("not a backup manifest")
	}
	if count >= 0 && count != len(m.Volumes) {
		return nil, fmt.Errorf("manifest lists %d volumes but declares %d", len(m.Volumes), count)
	}
	return m, nil
}

// Time parses the manifest timestamp.
func (m *Manifest) Time() (time.Time, error) {
	return time.ParseInLocation(TimestampLayout, m.Timestamp, time.Local)
}
