package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MeKo-Tech/eventshot/internal/utils"
)

// Candidate is a file offered by a Source.
type Candidate struct {
	// Path is where the worker reads the file from.
	Path string
	// Identity is the dedupe key, see IdentityOf.
	Identity string
	Size     int64
	ModTime  time.Time
}

// Source discovers input files. Scan may return files already seen; the
// table deduplicates by identity.
type Source interface {
	// Scan lists the files currently available. It is called from the
	// orchestrator loop only, never concurrently with itself.
	Scan(ctx context.Context) ([]Candidate, error)
}

// Finite is implemented by sources that stop producing new files. Run
// returns once such a source is exhausted and every item is terminal.
type Finite interface {
	// Exhausted reports that Scan will not offer new files.
	Exhausted() bool
}

// IdentityOf derives the dedupe key from path, size and modification time,
// so a file rewritten in place is treated as new and same-named files in
// different folders stay apart.
func IdentityOf(path string, size int64, mod time.Time) string {
	return fmt.Sprintf("%s_%d_%d", filepath.Clean(path), size, mod.Unix())
}

// candidateFor builds the Candidate of an existing file.
func candidateFor(path string, info os.FileInfo) Candidate {
	return Candidate{
		Path:     path,
		Identity: IdentityOf(path, info.Size(), info.ModTime()),
		Size:     info.Size(),
		ModTime:  info.ModTime(),
	}
}

// DirSource polls a single inbound directory. A file is offered only once it
// looks complete: its size matched on two consecutive scans, or it has not
// been modified for Settle.
type DirSource struct {
	Dir    string
	Settle time.Duration

	mu    sync.Mutex
	sizes map[string]int64
	now   func() time.Time
}

// NewDirSource watches dir. settle <= 0 offers files on first sight.
func NewDirSource(dir string, settle time.Duration) *DirSource {
	return &DirSource{Dir: dir, Settle: settle, sizes: make(map[string]int64), now: time.Now}
}

// Scan lists the supported images directly inside Dir, oldest first.
// Subdirectories and files still being written are skipped.
func (s *DirSource) Scan(ctx context.Context) ([]Candidate, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", s.Dir, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	next := make(map[string]int64, len(entries))
	var out []Candidate
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !utils.IsSupportedImage(name) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		path := filepath.Join(s.Dir, name)
		prev, seen := s.sizes[path]
		next[path] = info.Size()
		if info.Size() == 0 {
			continue
		}
		stable := seen && prev == info.Size()
		if !stable && s.Settle > 0 && s.now().Sub(info.ModTime()) < s.Settle {
			continue
		}
		out = append(out, candidateFor(path, info))
	}
	s.sizes = next
	sort.Slice(out, func(i, j int) bool { return out[i].ModTime.Before(out[j].ModTime) })
	return out, nil
}

// StaticSource offers a fixed set of files and directories once.
type StaticSource struct {
	Args      []string
	Recursive bool
	Include   []string
	Exclude   []string

	mu      sync.Mutex
	scanned bool
}

// NewStaticSource expands args (files or directories) on the first Scan.
func NewStaticSource(args []string, recursive bool, include, exclude []string) *StaticSource {
	return &StaticSource{Args: args, Recursive: recursive, Include: include, Exclude: exclude}
}

// Scan expands Args into candidates on the first call and returns nothing
// afterwards. An unreadable argument fails the scan.
func (s *StaticSource) Scan(ctx context.Context) ([]Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scanned {
		return nil, nil
	}
	s.scanned = true

	paths, err := discoverImageFiles(ctx, s.Args, s.Recursive, s.Include, s.Exclude)
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", p, err)
		}
		out = append(out, candidateFor(p, info))
	}
	return out, nil
}

// Exhausted reports whether the one-shot scan has happened.
func (s *StaticSource) Exhausted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanned
}

// discoverImageFiles finds all supported images among args.
func discoverImageFiles(ctx context.Context, args []string, recursive bool, include, exclude []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", arg, err)
		}
		if !info.IsDir() {
			if shouldIncludeFile(arg, include, exclude) {
				files = append(files, arg)
			}
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
			if d.IsDir() {
				if !recursive && path != arg {
					return filepath.SkipDir
				}
				return nil
			}
			if utils.IsSupportedImage(path) && shouldIncludeFile(path, include, exclude) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}

// shouldIncludeFile applies exclude patterns first, then include patterns
// when any are given.
func shouldIncludeFile(path string, include, exclude []string) bool {
	if matchesAnyPattern(path, exclude) {
		return false
	}
	if len(include) == 0 {
		return true
	}
	return matchesAnyPattern(path, include)
}

// matchesAnyPattern matches glob patterns against the file's base name.
func matchesAnyPattern(path string, patterns []string) bool {
	base := filepath.Base(path)
	for _, pattern := range patterns {
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
	}
	return false
}
