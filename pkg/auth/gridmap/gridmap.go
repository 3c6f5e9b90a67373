// Package gridmap reads grid-mapfiles, which bind certificate subjects (or
// Kerberos principals) to local account names:
//
//	# comment
//	"/C=US/O=Grid/CN=Alice Smith" alice,asmith
//	alice@EXAMPLE.COM alice
//
// A subject containing spaces must be quoted; inside quotes, \" and \\ are
// escapes. The account list is comma separated. Repeated subjects are merged.
//
// VOMS entries bind a subject to an account only for one attribute (FQAN):
//
//	"/DC=org/DC=cilogon/CN=Zdenek Maxa" "/cms/Role=cmsuser" uscms1713
//
// Peers carry no VOMS attributes here, so such lines are skipped rather than
// granting the account to every use of the subject.
package gridmap

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/gridauth/internal/logger"
	"github.com/marmos91/gridauth/pkg/auth"
)

// ParseError reports a malformed line.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("gridmap: line %d: %s", e.Line, e.Msg)
}

// Parse reads grid-mapfile entries from r.
func Parse(r io.Reader) (map[string][]string, error) {
	entries, _, err := parse(r)
	return entries, err
}

// parse also returns the number of VOMS lines skipped.
func parse(r io.Reader) (map[string][]string, int, error) {
	entries := make(map[string][]string)
	skipped := 0
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)

	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == '#' {
			continue
		}

		subject, rest, err := splitSubject(line)
		if err != nil {
			return nil, 0, &ParseError{Line: lineNo, Msg: err.Error()}
		}
		rest = strings.TrimSpace(rest)
		if strings.HasPrefix(rest, `"`) {
			skipped++
			continue
		}

		names, err := splitAccounts(rest)
		if err != nil {
			return nil, 0, &ParseError{Line: lineNo, Msg: err.Error()}
		}
		if len(names) == 0 {
			return nil, 0, &ParseError{Line: lineNo, Msg: fmt.Sprintf("no local account for %q", subject)}
		}
		entries[subject] = append(entries[subject], names...)
	}
	if err := sc.Err(); err != nil {
		return nil, 0, fmt.Errorf("gridmap: read: %w", err)
	}

	for s, names := range entries {
		slices.Sort(names)
		entries[s] = slices.Compact(names)
	}
	return entries, skipped, nil
}

// splitAccounts splits a comma separated account list. An account name
// never contains whitespace or quotes.
func splitAccounts(list string) ([]string, error) {
	var names []string
	for _, n := range strings.Split(list, ",") {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if strings.ContainsAny(n, " \t\"") {
			return nil, fmt.Errorf("invalid local account %q", n)
		}
		names = append(names, n)
	}
	return names, nil
}

func splitSubject(line string) (subject, rest string, err error) {
	if line[0] != '"' {
		i := strings.IndexAny(line, " \t")
		if i < 0 {
			return "", "", errors.New("missing local account list")
		}
		return line[:i], line[i:], nil
	}

	var b strings.Builder
	for i := 1; i < len(line); i++ {
		switch c := line[i]; c {
		case '\\':
			if i+1 < len(line) {
				i++
				b.WriteByte(line[i])
			}
		case '"':
			if b.Len() == 0 {
				return "", "", errors.New("empty subject")
			}
			return b.String(), line[i+1:], nil
		default:
			b.WriteByte(c)
		}
	}
	return "", "", errors.New("unterminated quoted subject")
}

// Map is a loaded grid-mapfile. It is safe for concurrent use.
type Map struct {
	path string

	mu      sync.RWMutex
	entries map[string][]string
	modTime time.Time
}

// New returns a Map over fixed entries. Reload is a no-op for it.
func New(entries map[string][]string) *Map {
	m := &Map{entries: make(map[string][]string, len(entries))}
	for s, names := range entries {
		names = slices.Clone(names)
		slices.Sort(names)
		m.entries[s] = slices.Compact(names)
	}
	return m
}

// Load reads the grid-mapfile at path.
func Load(path string) (*Map, error) {
	m := &Map{path: path}
	if err := m.Reload(); err != nil {
		return nil, err
	}
	return m, nil
}

// Path returns the file the map was loaded from.
func (m *Map) Path() string {
	return m.path
}

// Reload re-reads the file. On error the previous entries stay active.
func (m *Map) Reload() error {
	if m.path == "" {
		return nil
	}

	f, err := os.Open(m.path)
	if err != nil {
		return fmt.Errorf("gridmap: open %s: %w", m.path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("gridmap: stat %s: %w", m.path, err)
	}

	entries, skipped, err := parse(f)
	if err != nil {
		return err
	}
	if skipped > 0 {
		logger.Warn("Grid-mapfile VOMS entries ignored", logger.KeyPath, m.path, logger.KeyCount, skipped)
	}

	m.mu.Lock()
	m.entries = entries
	m.modTime = info.ModTime()
	m.mu.Unlock()
	return nil
}

// Lookup returns the sorted local accounts bound to subject, or nil.
func (m *Map) Lookup(subject string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.entries[subject])
}

// LookupPrincipals implements auth.PrincipalMapper.
func (m *Map) LookupPrincipals(_ context.Context, subject string) ([]string, error) {
	return m.Lookup(subject), nil
}

// Len returns the number of subjects.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Watch polls the file every interval and reloads it when its modification
// time changes, until ctx is done.
func (m *Map) Watch(ctx context.Context, interval time.Duration) {
	if m.path == "" || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.checkAndReload()
		case <-ctx.Done():
			return
		}
	}
}

func (m *Map) checkAndReload() {
	info, err := os.Stat(m.path)
	if err != nil {
		logger.Error("Grid-mapfile stat failed", logger.KeyPath, m.path, logger.KeyError, err)
		return
	}

	m.mu.RLock()
	unchanged := info.ModTime().Equal(m.modTime)
	m.mu.RUnlock()
	if unchanged {
		return
	}

	if err := m.Reload(); err != nil {
		logger.Error("Grid-mapfile reload failed", logger.KeyPath, m.path, logger.KeyError, err)
		return
	}
	logger.Info("Grid-mapfile reloaded", logger.KeyPath, m.path, logger.KeyCount, m.Len())
}

var _ auth.PrincipalMapper = (*Map)(nil)
