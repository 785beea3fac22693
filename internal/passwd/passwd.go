package passwd

// Package passwd provides read-only parsing of the system account
// database. Account mutation goes through useradd/userdel; this package
// only answers lookups and enumerations.

import (
	"bufio"
	"os"
	"strconv"
	"strings"
)

// DefaultPath is the account database consulted when no override is given.
const DefaultPath = "/etc/passwd"

type Entry struct {
	Name  string
	UID   int
	GID   int
	Gecos string
	Home  string
	Shell string
}

type File struct {
	entries []Entry
}

// Load reads and parses the account database at path. Comment lines,
// blank lines and lines that do not parse as passwd entries are skipped.
func Load(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	s := bufio.NewScanner(f)
	buf := make([]byte, 0, 64*1024)
	s.Buffer(buf, 1024*1024)
	for s.Scan() {
		line := s.Text()
		trim := strings.TrimSpace(line)
		if trim == "" || strings.HasPrefix(trim, "#") {
			continue
		}
		// Keep trailing empty fields.
		parts := strings.Split(line, ":")
		if len(parts) < 7 {
			continue
		}
		uid, err := strconv.Atoi(parts[2])
		if err != nil {
			continue
		}
		gid, err := strconv.Atoi(parts[3])
		if err != nil {
			continue
		}
		entries = append(entries, Entry{
			Name:  parts[0],
			UID:   uid,
			GID:   gid,
			Gecos: parts[4],
			Home:  parts[5],
			Shell: parts[6],
		})
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return &File{entries: entries}, nil
}

func (f *File) Find(name string) *Entry {
	for i := range f.entries {
		if f.entries[i].Name == name {
			return &f.entries[i]
		}
	}
	return nil
}

func (f *File) Entries() []Entry {
	out := make([]Entry, len(f.entries))
	copy(out, f.entries)
	return out
}
