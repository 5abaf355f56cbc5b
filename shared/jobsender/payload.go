package jobsender

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/cuongbtq/helix-jobs/shared/blobstore"
)

// LogFunc receives human-readable progress messages. It is advisory only and
// may be called from several goroutines at once.
type LogFunc func(msg string)

func (f LogFunc) printf(format string, args ...any) {
	if f != nil {
		f(fmt.Sprintf(format, args...))
	}
}

// Kind tags the variant held by a Payload
type Kind int

const (
	KindNone Kind = iota
	KindURI
	KindDirectory
	KindFiles
	KindArchive
)

func (k Kind) String() string {
	switch k {
	case KindURI:
		return "uri"
	case KindDirectory:
		return "directory"
	case KindFiles:
		return "files"
	case KindArchive:
		return "archive"
	default:
		return "none"
	}
}

// Payload is data a work item or a whole job needs on the remote machine.
// The zero value is the empty payload.
type Payload struct {
	kind   Kind
	uri    string
	dir    string
	prefix string
	files  []string
	path   string
}

// URIPayload references data that is already reachable; uploading it is a no-op
func URIPayload(uri string) Payload {
	return Payload{kind: KindURI, uri: uri}
}

// DirectoryPayload zips the tree under dir. A non-empty prefix is prepended
// to every entry name inside the archive.
func DirectoryPayload(dir, prefix string) Payload {
	return Payload{kind: KindDirectory, dir: dir, prefix: strings.Trim(filepath.ToSlash(prefix), "/")}
}

// FilesPayload zips the listed files, each stored under its base name
func FilesPayload(files ...string) Payload {
	return Payload{kind: KindFiles, files: append([]string(nil), files...)}
}

// ArchivePayload uploads an existing archive as-is
func ArchivePayload(path string) Payload {
	return Payload{kind: KindArchive, path: path}
}

func (p Payload) Kind() Kind { return p.kind }

func (p Payload) IsZero() bool { return p.kind == KindNone }

// String describes the payload source for logs and error messages
func (p Payload) String() string {
	switch p.kind {
	case KindURI:
		return p.uri
	case KindDirectory:
		return p.dir
	case KindFiles:
		return strings.Join(p.files, ",")
	case KindArchive:
		return p.path
	default:
		return ""
	}
}

// Upload stores the payload in c and returns the URI the remote executor reads it from.
// Each call picks a fresh blob name, so concurrent uploads into one container never collide.
func (p Payload) Upload(ctx context.Context, fs afero.Fs, c blobstore.Container, log LogFunc) (string, error) {
	switch p.kind {
	case KindURI:
		return p.uri, nil

	case KindDirectory:
		data, err := zipDirectory(fs, p.dir, p.prefix)
		if err != nil {
			return "", err
		}
		name := uuid.NewString() + ".zip"
		log.printf("Uploading directory payload %s as %s", p.dir, name)
		return c.UploadBytes(ctx, name, data)

	case KindFiles:
		data, err := zipFiles(fs, p.files)
		if err != nil {
			return "", err
		}
		name := uuid.NewString() + ".zip"
		log.printf("Uploading %d files as %s", len(p.files), name)
		return c.UploadBytes(ctx, name, data)

	case KindArchive:
		f, err := fs.Open(p.path)
		if err != nil {
			return "", fmt.Errorf("failed to open archive %s: %w", p.path, err)
		}
		defer f.Close()

		name := uuid.NewString() + "/" + filepath.Base(p.path)
		log.printf("Uploading archive %s as %s", p.path, name)
		return c.UploadStream(ctx, name, f)

	default:
		return "", errors.New("cannot upload an empty payload")
	}
}

// checkLocal reports every local path the payload needs that is missing
func (p Payload) checkLocal(fs afero.Fs) []error {
	var errs []error
	switch p.kind {
	case KindURI:
		if p.uri == "" {
			errs = append(errs, errors.New("payload uri is empty"))
		}
	case KindDirectory:
		info, err := fs.Stat(p.dir)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("payload directory %s: %w", p.dir, err))
		case !info.IsDir():
			errs = append(errs, fmt.Errorf("payload directory %s is not a directory", p.dir))
		}
	case KindFiles:
		if len(p.files) == 0 {
			errs = append(errs, errors.New("files payload lists no files"))
		}
		for _, f := range p.files {
			if err := checkFile(fs, f); err != nil {
				errs = append(errs, err)
			}
		}
	case KindArchive:
		if err := checkFile(fs, p.path); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func checkFile(fs afero.Fs, path string) error {
	info, err := fs.Stat(path)
	if err != nil {
		return fmt.Errorf("payload file %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("payload file %s is a directory", path)
	}
	return nil
}

func zipDirectory(fs afero.Fs, dir, prefix string) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	err := afero.Walk(fs, dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if prefix != "" {
			name = prefix + "/" + name
		}
		return addZipEntry(zw, fs, path, name, info)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to archive directory %s: %w", dir, err)
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to archive directory %s: %w", dir, err)
	}
	return buf.Bytes(), nil
}

func zipFiles(fs afero.Fs, files []string) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	for _, path := range files {
		info, err := fs.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to archive file %s: %w", path, err)
		}
		if err := addZipEntry(zw, fs, path, filepath.Base(path), info); err != nil {
			return nil, fmt.Errorf("failed to archive file %s: %w", path, err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish archive: %w", err)
	}
	return buf.Bytes(), nil
}

func addZipEntry(zw *zip.Writer, fs afero.Fs, path, name string, info os.FileInfo) error {
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = name
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}

	f, err := fs.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(w, f)
	return err
}
