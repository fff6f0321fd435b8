// ABOUTME: Unpacks downloaded plugin archives (zip or tar.gz) into the plugin root
// ABOUTME: Rejects entries that would escape the destination and places loose archives under their folder

package plugins

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

type archiveEntry struct {
	name  string
	dir   bool
	mode  os.FileMode
	open  func() (io.ReadCloser, error)
	links bool
}

// extractArchive unpacks data for the bundle folder. If every entry already
// lives under folder/ the archive is unpacked at root; otherwise it is
// unpacked into root/folder. Extraction is not rolled back on failure.
func extractArchive(data []byte, root, folder string) error {
	entries, err := readArchive(data)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return errors.New("archive is empty")
	}

	dest := filepath.Join(root, folder)
	if allUnder(entries, folder) {
		dest = root
	}

	for _, e := range entries {
		if !e.links && escapes(e.name) {
			return fmt.Errorf("illegal path in archive: %q", e.name)
		}
	}

	for _, e := range entries {
		if e.links {
			continue
		}
		name := strings.TrimPrefix(path.Clean("/"+e.name), "/")
		if name == "" {
			continue
		}
		local := filepath.FromSlash(name)
		target := filepath.Join(dest, local)

		if e.dir {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := writeEntry(target, e); err != nil {
			return err
		}
	}
	return nil
}

func writeEntry(target string, e archiveEntry) error {
	rc, err := e.open()
	if err != nil {
		return err
	}
	defer rc.Close()

	mode := e.mode.Perm() | 0o600
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, io.LimitReader(rc, maxDownloadSize)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// escapes reports whether an archive entry name is absolute or climbs out of
// the destination.
func escapes(name string) bool {
	name = strings.ReplaceAll(name, "\\", "/")
	if strings.HasPrefix(name, "/") || filepath.IsAbs(name) {
		return true
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

func allUnder(entries []archiveEntry, folder string) bool {
	prefix := folder + "/"
	for _, e := range entries {
		name := strings.TrimPrefix(e.name, "./")
		if name != folder && name != prefix && !strings.HasPrefix(name, prefix) {
			return false
		}
	}
	return true
}

func readArchive(data []byte) ([]archiveEntry, error) {
	switch {
	case bytes.HasPrefix(data, []byte("PK\x03\x04")):
		return readZip(data)
	case bytes.HasPrefix(data, []byte{0x1f, 0x8b}):
		return readTarGz(data)
	default:
		return nil, errors.New("unsupported archive format (want zip or tar.gz)")
	}
}

func readZip(data []byte) ([]archiveEntry, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	entries := make([]archiveEntry, 0, len(zr.File))
	for _, f := range zr.File {
		entries = append(entries, archiveEntry{
			name:  f.Name,
			dir:   f.FileInfo().IsDir(),
			mode:  f.Mode(),
			open:  f.Open,
			links: f.Mode()&os.ModeSymlink != 0,
		})
	}
	return entries, nil
}

func readTarGz(data []byte) ([]archiveEntry, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	var entries []archiveEntry
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		e := archiveEntry{name: hdr.Name, mode: os.FileMode(hdr.Mode)}
		switch hdr.Typeflag {
		case tar.TypeDir:
			e.dir = true
		case tar.TypeReg:
			body, err := io.ReadAll(io.LimitReader(tr, maxDownloadSize))
			if err != nil {
				return nil, err
			}
			e.open = func() (io.ReadCloser, error) {
				return io.NopCloser(bytes.NewReader(body)), nil
			}
		default:
			e.links = true
		}
		entries = append(entries, e)
	}
	return entries, nil
}
