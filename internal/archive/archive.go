// Package archive writes the compressed archives and checksum files that
// make up local artifacts.
package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"
)

// Supported archive extensions.
const (
	Zip   = ".zip"
	TarGz = ".tar.gz"
	TarXz = ".tar.xz"
)

// FormatOf returns the archive format implied by a file name.
func FormatOf(name string) (string, error) {
	for _, format := range []string{TarGz, TarXz, Zip} {
		if strings.HasSuffix(name, format) {
			return format, nil
		}
	}
	return "", fmt.Errorf("unsupported archive format for %s", name)
}

// Create archives the contents of srcDir into dst. Entries are placed under
// prefix when it is non-empty. The format follows dst's extension.
func Create(dst, srcDir, prefix string) (err error) {
	format, err := FormatOf(dst)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	switch format {
	case Zip:
		return writeZip(out, srcDir, prefix)
	case TarGz:
		gz := gzip.NewWriter(out)
		if err := writeTar(gz, srcDir, prefix); err != nil {
			gz.Close()
			return err
		}
		return gz.Close()
	default:
		xzw, err := xz.NewWriter(out)
		if err != nil {
			return fmt.Errorf("create xz writer: %w", err)
		}
		if err := writeTar(xzw, srcDir, prefix); err != nil {
			xzw.Close()
			return err
		}
		return xzw.Close()
	}
}

type entry struct {
	name string
	path string
	info fs.FileInfo
}

// walk lists srcDir in lexical order with slash-separated archive names.
func walk(srcDir, prefix string) ([]entry, error) {
	var entries []entry
	err := filepath.WalkDir(srcDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() && !info.IsDir() {
			return nil
		}
		name := filepath.ToSlash(rel)
		if prefix != "" {
			name = path.Join(prefix, name)
		}
		entries = append(entries, entry{name: name, path: p, info: info})
		return nil
	})
	return entries, err
}

func writeTar(w io.Writer, srcDir, prefix string) error {
	entries, err := walk(srcDir, prefix)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(w)
	if prefix != "" {
		if err := tw.WriteHeader(&tar.Header{
			Typeflag: tar.TypeDir,
			Name:     prefix + "/",
			Mode:     0o755,
		}); err != nil {
			return err
		}
	}
	for _, e := range entries {
		hdr, err := tar.FileInfoHeader(e.info, "")
		if err != nil {
			return err
		}
		hdr.Name = e.name
		if e.info.IsDir() {
			hdr.Name += "/"
		}
		hdr.Uid, hdr.Gid = 0, 0
		hdr.Uname, hdr.Gname = "", ""
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if e.info.IsDir() {
			continue
		}
		if err := copyFile(tw, e.path); err != nil {
			return err
		}
	}
	return tw.Close()
}

func writeZip(w io.Writer, srcDir, prefix string) error {
	entries, err := walk(srcDir, prefix)
	if err != nil {
		return err
	}
	zw := zip.NewWriter(w)
	for _, e := range entries {
		hdr, err := zip.FileInfoHeader(e.info)
		if err != nil {
			return err
		}
		hdr.Name = e.name
		if e.info.IsDir() {
			hdr.Name += "/"
		} else {
			hdr.Method = zip.Deflate
		}
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		if e.info.IsDir() {
			continue
		}
		if err := copyFile(fw, e.path); err != nil {
			return err
		}
	}
	return zw.Close()
}

func copyFile(w io.Writer, p string) error {
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

// Checksum styles.
const (
	SHA256 = "sha256"
	SHA512 = "sha512"
)

// Digest returns the hex digest of the file at p.
func Digest(p, style string) (string, error) {
	var h hash.Hash
	switch style {
	case SHA256:
		h = sha256.New()
	case SHA512:
		h = sha512.New()
	default:
		return "", fmt.Errorf("unsupported checksum style %q", style)
	}
	if err := copyFile(h, p); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// WriteChecksumFile writes "<hex>  <name>" to dst, the format sha256sum -c
// accepts.
func WriteChecksumFile(dst, sum, name string) error {
	if sum == "" {
		return errors.New("checksum is empty")
	}
	return os.WriteFile(dst, []byte(sum+"  "+name+"\n"), 0o644)
}
