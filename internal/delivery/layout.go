package delivery

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Layout is the fixed directory taxonomy of a running installation.
type Layout struct {
	Inbound string `mapstructure:"inbound" yaml:"inbound" json:"inbound"`
	Backup  string `mapstructure:"backup" yaml:"backup" json:"backup"`
	Output  string `mapstructure:"output" yaml:"output" json:"output"`
	// Print holds PDF print sheets; empty disables them.
	Print string `mapstructure:"print" yaml:"print" json:"print"`
}

// DefaultLayout places everything below ./eventshot-data.
func DefaultLayout() Layout {
	return Layout{
		Inbound: filepath.Join("eventshot-data", "inbound"),
		Backup:  filepath.Join("eventshot-data", "backup"),
		Output:  filepath.Join("eventshot-data", "output"),
	}
}

// Validate requires distinct inbound, backup and output directories.
func (l Layout) Validate() error {
	dirs := map[string]string{"inbound": l.Inbound, "backup": l.Backup, "output": l.Output}
	seen := make(map[string]string, len(dirs))
	for name, d := range dirs {
		if strings.TrimSpace(d) == "" {
			return fmt.Errorf("%s directory is empty", name)
		}
		abs, err := filepath.Abs(d)
		if err != nil {
			return fmt.Errorf("%s directory: %w", name, err)
		}
		if other, dup := seen[abs]; dup {
			return fmt.Errorf("%s and %s directories are the same: %s", name, other, d)
		}
		seen[abs] = name
	}
	return nil
}

// EnsureDirs creates every configured directory.
func (l Layout) EnsureDirs() error {
	for _, d := range []string{l.Inbound, l.Backup, l.Output, l.Print} {
		if d == "" {
			continue
		}
		if err := os.MkdirAll(d, 0o750); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}
	return nil
}

// BackupOriginal copies src into the backup directory as
// <stem>_<tag><ext>, where tag comes from itemID, and keeps its modification
// time. Two inbound files with the same base name never share a backup. An
// existing backup of the same size is left as is, so retries are cheap.
func (l Layout) BackupOriginal(src, itemID string) (string, error) {
	if l.Backup == "" {
		return "", errors.New("backup directory not configured")
	}
	fi, err := os.Stat(src)
	if err != nil {
		return "", fmt.Errorf("stat original: %w", err)
	}
	dst := filepath.Join(l.Backup, BackupName(filepath.Base(src), itemID))
	if bi, err := os.Stat(dst); err == nil && bi.Size() == fi.Size() {
		return dst, nil
	}

	if err := copyFile(src, dst); err != nil {
		return "", err
	}
	if err := os.Chtimes(dst, fi.ModTime(), fi.ModTime()); err != nil {
		return "", fmt.Errorf("preserve mtime: %w", err)
	}
	return dst, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src) //nolint:gosec // G304: src is an inbound file
	if err != nil {
		return fmt.Errorf("open original: %w", err)
	}
	defer func() { _ = in.Close() }()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create backup: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("copy original: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close backup: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename backup: %w", err)
	}
	return nil
}

// Stem returns the file name of path without directory and extension.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// SanitizeStem folds accents (é → e) and replaces anything outside
// [A-Za-z0-9_-] with an underscore.
func SanitizeStem(stem string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, stem)
	if err != nil {
		folded = stem
	}
	var b strings.Builder
	for _, r := range folded {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)), r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "image"
	}
	return out
}

// tagLen is the number of ID characters kept in file names.
const tagLen = 8

// ItemTag shortens a work item ID to the alphanumeric tag used in file
// names. Item IDs are random UUIDs, so tags of different items differ.
func ItemTag(itemID string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(itemID) {
		if b.Len() == tagLen {
			break
		}
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// BackupName returns <stem>_<tag><ext> for a file name, or the name itself
// when itemID has no usable tag.
func BackupName(base, itemID string) string {
	tag := ItemTag(itemID)
	if tag == "" {
		return base
	}
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext) + "_" + tag + ext
}

// OutputName returns processed_<stem>_<unix>_<tag><ext>. The stem is
// sanitized, so different inputs can fold to the same stem; the item tag
// keeps their outputs apart. The same item always maps to the same name,
// so a retried delivery replaces its own earlier output.
func OutputName(stem string, t time.Time, itemID, ext string) string {
	name := "processed_" + SanitizeStem(stem) + "_" + strconv.FormatInt(t.Unix(), 10)
	if tag := ItemTag(itemID); tag != "" {
		name += "_" + tag
	}
	return name + ext
}
