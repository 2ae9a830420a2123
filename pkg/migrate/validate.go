package migrate

import (
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strings"
	"time"
)

var sqlFileRe = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)

// ValidateDir checks the migrations in an on-disk directory.
func ValidateDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("dir is required")
	}
	return ValidateFS(Source(dir))
}

// ValidateFS checks file naming, version uniqueness, the goose Up and Down
// markers, and that StatementBegin/End blocks are balanced.
func ValidateFS(fsys fs.FS) error {
	files, err := sqlFiles(fsys)
	if err != nil {
		return err
	}
	seen := make(map[string]string, len(files))
	for _, name := range files {
		m := sqlFileRe.FindStringSubmatch(name)
		if m == nil {
			return fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", name)
		}
		if _, err := parseVersion(m[1]); err != nil {
			return fmt.Errorf("migration %q: bad version timestamp: %w", name, err)
		}
		if prev, ok := seen[m[1]]; ok {
			return fmt.Errorf("duplicate migration version %s in %q and %q", m[1], prev, name)
		}
		seen[m[1]] = name

		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("read %q: %w", name, err)
		}
		if err := checkBody(name, string(body)); err != nil {
			return err
		}
	}
	return nil
}

func checkBody(name, txt string) error {
	up := strings.Index(txt, "-- +goose Up")
	down := strings.Index(txt, "-- +goose Down")
	switch {
	case up < 0:
		return fmt.Errorf("migration %q missing \"-- +goose Up\"", name)
	case down < 0:
		return fmt.Errorf("migration %q missing \"-- +goose Down\"", name)
	case down < up:
		return fmt.Errorf("migration %q has Down before Up", name)
	}
	begins := strings.Count(txt, "-- +goose StatementBegin")
	ends := strings.Count(txt, "-- +goose StatementEnd")
	if begins != ends {
		return fmt.Errorf("migration %q has %d StatementBegin but %d StatementEnd", name, begins, ends)
	}
	return nil
}

func sqlFiles(fsys fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func latestVersion(fsys fs.FS) (*time.Time, error) {
	files, err := sqlFiles(fsys)
	if err != nil {
		return nil, err
	}
	var latest *time.Time
	for _, name := range files {
		m := sqlFileRe.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		v, err := parseVersion(m[1])
		if err != nil {
			continue
		}
		if latest == nil || v.After(*latest) {
			latest = &v
		}
	}
	return latest, nil
}
