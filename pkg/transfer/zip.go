package transfer

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	pkgerrors "github.com/absmach/fedlet/pkg/errors"
)

const dirPermissions = 0o755

// Extract unpacks the zip archive at src into dest, which is created when
// missing. Entries escaping dest are rejected.
func Extract(src, dest string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return pkgerrors.Wrapf(pkgerrors.KindBundle, "extract", err, "failed to open archive %s: %v", src, err)
	}
	defer r.Close()

	root, err := filepath.Abs(dest)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.KindBundle, "extract", err)
	}
	if err := os.MkdirAll(root, dirPermissions); err != nil {
		return pkgerrors.Wrap(pkgerrors.KindBundle, "extract", err)
	}

	for _, f := range r.File {
		if err := extractFile(f, root); err != nil {
			return pkgerrors.Wrapf(pkgerrors.KindBundle, "extract", err, "entry %s: %v", f.Name, err)
		}
	}

	return nil
}

func extractFile(f *zip.File, root string) error {
	target := filepath.Join(root, filepath.FromSlash(f.Name))
	if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
		return fmt.Errorf("illegal path %q", f.Name)
	}

	if f.FileInfo().IsDir() {
		return os.MkdirAll(target, dirPermissions)
	}

	if err := os.MkdirAll(filepath.Dir(target), dirPermissions); err != nil {
		return err
	}

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, f.Mode().Perm()|0o600)
	if err != nil {
		return err
	}

	if _, err := io.Copy(dst, rc); err != nil {
		dst.Close()

		return err
	}

	return dst.Close()
}

// Archive writes the contents of dir, relative to dir, into a zip file at dst.
func Archive(dir, dst string) error {
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create archive %s: %w", dst, err)
	}

	zw := zip.NewWriter(out)

	walkErr := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil || rel == "." {
			return err
		}

		hdr, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
			_, err = zw.CreateHeader(hdr)

			return err
		}
		hdr.Method = zip.Deflate

		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		_, err = io.Copy(w, f)

		return err
	})

	if err := zw.Close(); err != nil && walkErr == nil {
		walkErr = err
	}
	if err := out.Close(); err != nil && walkErr == nil {
		walkErr = err
	}
	if walkErr != nil {
		os.Remove(dst)

		return fmt.Errorf("failed to archive %s: %w", dir, walkErr)
	}

	return nil
}
