package upload

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/bodgit/sevenzip"
	"github.com/nwaples/rardecode/v2"
	"github.com/ulikunitz/xz"

	"github.com/tendant/mangashelf/pkg/mangashelf"
)

// maxExtractedBytes bounds the decompressed size of a single archive
const maxExtractedBytes int64 = 2 << 30

type archiveKind int

const (
	notArchive archiveKind = iota
	archiveZip
	archive7z
	archiveRar
	archiveXz
)

var archiveTypes = map[string]archiveKind{
	"application/zip":              archiveZip,
	"application/x-zip-compressed": archiveZip,
	"application/x-7z-compressed":  archive7z,
	"application/x-rar-compressed": archiveRar,
	"application/vnd.rar":          archiveRar,
	"application/x-xz":             archiveXz,
}

var imageExtensions = []string{".jpeg", ".jpg", ".png", ".bmp", ".webp"}

func baseMediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt
}

// classify returns the archive kind of a declared media type and whether
// the type is accepted at all
func classify(contentType string) (archiveKind, bool) {
	mt := baseMediaType(contentType)
	if kind, ok := archiveTypes[mt]; ok {
		return kind, true
	}
	return notArchive, strings.HasPrefix(mt, "image/")
}

func hasImageExtension(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range imageExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// safeJoin resolves an archive entry name inside dest, rejecting entries
// that would escape it
func safeJoin(dest, name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	target := filepath.Join(dest, filepath.FromSlash(name))
	rel, err := filepath.Rel(dest, target)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(name) {
		return "", mangashelf.Invalid("archive entry %q escapes the extraction directory", name)
	}
	return target, nil
}

// extractor writes entries below dest while enforcing the size budget
type extractor struct {
	dest      string
	remaining int64
}

func (x *extractor) write(name string, r io.Reader) error {
	target, err := safeJoin(x.dest, name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	n, err := io.Copy(f, io.LimitReader(r, x.remaining+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to extract %s: %w", name, err)
	}
	x.remaining -= n
	if x.remaining < 0 {
		return mangashelf.Invalid("archive exceeds %d bytes once extracted", maxExtractedBytes)
	}
	return nil
}

// extractArchive unpacks the archive at src into dest. name is the
// uploaded file name, which src does not preserve.
func extractArchive(kind archiveKind, src, name, dest string) error {
	x := &extractor{dest: dest, remaining: maxExtractedBytes}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}

	var err error
	switch kind {
	case archiveZip:
		err = extractZip(x, src)
	case archive7z:
		err = extract7z(x, src)
	case archiveRar:
		err = extractRar(x, src)
	case archiveXz:
		err = extractXz(x, src, name)
	default:
		return fmt.Errorf("unsupported archive kind %d", kind)
	}
	if err != nil && !errors.Is(err, mangashelf.ErrValidation) {
		return mangashelf.Invalid("'%s' could not be extracted: %v", name, err)
	}
	return err
}

func extractZip(x *extractor, src string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		err = x.write(f.Name, rc)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func extract7z(x *extractor, src string) error {
	r, err := sevenzip.OpenReader(src)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		err = x.write(f.Name, rc)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func extractRar(x *extractor, src string) error {
	r, err := rardecode.OpenReader(src)
	if err != nil {
		return err
	}
	defer r.Close()

	for {
		h, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if h.IsDir {
			continue
		}
		if err := x.write(h.Name, r); err != nil {
			return err
		}
	}
}

// extractXz handles both a compressed tarball and a single compressed
// file, which keeps name without its .xz suffix
func extractXz(x *extractor, src, name string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	zr, err := xz.NewReader(f)
	if err != nil {
		return err
	}
	br := bufio.NewReaderSize(zr, tarBlockSize)

	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, ".tar.xz") || strings.HasSuffix(lower, ".txz") || isTar(br) {
		return extractTar(x, br)
	}
	inner := name
	if strings.HasSuffix(lower, ".xz") {
		inner = name[:len(name)-len(".xz")]
	}
	return x.write(inner, br)
}

const tarBlockSize = 512

// isTar reports whether r starts with a POSIX or GNU tar header
func isTar(r *bufio.Reader) bool {
	head, err := r.Peek(tarBlockSize)
	if err != nil {
		return false
	}
	return bytes.HasPrefix(head[257:], []byte("ustar"))
}

func extractTar(x *extractor, r io.Reader) error {
	tr := tar.NewReader(r)
	for {
		h, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if h.Typeflag != tar.TypeReg {
			continue
		}
		if err := x.write(h.Name, tr); err != nil {
			return err
		}
	}
}

// collectImages returns every file below dir with an image extension,
// in natural order of their relative paths
func collectImages(dir string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p != dir && (strings.HasPrefix(d.Name(), ".") || d.Name() == "__MACOSX") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && hasImageExtension(d.Name()) {
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortNatural(out, dir)
	return out, nil
}
