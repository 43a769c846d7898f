package core

import (
	"errors"
	"io/fs"
	"strings"

	"sxfer/protocols"
	"sxfer/wire"
)

// List enumerates the immediate children of rel below the served root:
// directories first, then files, each group in the order the backend
// returned them. A missing directory yields an empty listing. Temporary
// files of uploads still registered in active are left out.
func List(fsys protocols.FileSystem, rel string, active *ActiveTransfers) (wire.Listing, error) {
	dir := fsys.Root()
	if rel != "" {
		resolved, err := fsys.Resolve(rel)
		if err != nil {
			return wire.Listing{}, err
		}
		dir = resolved

		info, err := fsys.Stat(dir)
		if errors.Is(err, fs.ErrNotExist) || (err == nil && !info.IsDir) {
			return wire.Listing{}, nil
		}
		if err != nil {
			return wire.Listing{}, err
		}
	}

	entries, err := fsys.List(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return wire.Listing{}, nil
	}
	if err != nil {
		return wire.Listing{}, err
	}

	var dirs, files []wire.Entry
	for _, e := range entries {
		if e.IsDir {
			dirs = append(dirs, wire.Entry{Type: wire.EntryDir, Name: e.Name, ModifyDate: e.ModTime})
			continue
		}
		if strings.HasSuffix(e.Name, TempSuffix) && active.Has(e.Path) {
			continue
		}
		files = append(files, wire.Entry{Type: wire.EntryFile, Name: e.Name, Size: e.Size, ModifyDate: e.ModTime})
	}
	return wire.Listing{Entries: append(dirs, files...)}, nil
}
