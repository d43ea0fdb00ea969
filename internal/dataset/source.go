package dataset

import (
	"archive/tar"
	"bufio"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// ErrResourceUnavailable indicates the dataset could not be fetched and no
// local copy exists.
var ErrResourceUnavailable = errors.New("dataset: resource unavailable")

// ErrCorruptArchive indicates the dataset archive could not be extracted.
var ErrCorruptArchive = errors.New("dataset: corrupt archive")

// DefaultURL is the location of the PNG-per-class MNIST archive.
const DefaultURL = "https://github.com/myleott/mnist_png/raw/master/mnist_png.tar.gz"

// SourceOptions locates the dataset archive and its extracted layout.
type SourceOptions struct {
	Root         string
	URL          string
	ArchiveName  string
	ExtractedDir string
	Client       *http.Client
}

// Ensure makes sure Root/ExtractedDir holds a training/ and testing/ tree,
// downloading and extracting the archive when needed. It returns the path of
// the extracted directory.
func Ensure(ctx context.Context, opts SourceOptions) (string, error) {
	if opts.Root == "" {
		return "", errors.New("source: root must be set")
	}
	if opts.ArchiveName == "" {
		opts.ArchiveName = "mnist_png.tar.gz"
	}
	if opts.ExtractedDir == "" {
		opts.ExtractedDir = strings.TrimSuffix(opts.ArchiveName, ".tar.gz")
	}
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}

	extracted := filepath.Join(opts.Root, opts.ExtractedDir)
	if isDir(filepath.Join(extracted, "training")) && isDir(filepath.Join(extracted, "testing")) {
		return extracted, nil
	}
	if err := os.MkdirAll(opts.Root, 0o755); err != nil {
		return "", fmt.Errorf("create data root: %w", err)
	}

	archive := filepath.Join(opts.Root, opts.ArchiveName)
	if _, err := os.Stat(archive); errors.Is(err, os.ErrNotExist) {
		if opts.URL == "" {
			return "", pkgerrors.Wrapf(ErrResourceUnavailable, "%s missing and no url configured", archive)
		}
		if err := download(ctx, opts.Client, opts.URL, archive); err != nil {
			return "", err
		}
	} else if err != nil {
		return "", fmt.Errorf("stat archive: %w", err)
	}

	// The tree only appears at its final path once the whole archive was read.
	staging, err := os.MkdirTemp(opts.Root, ".extract-*")
	if err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	if err := extractTarGz(archive, staging); err != nil {
		return "", err
	}
	staged := filepath.Join(staging, opts.ExtractedDir)
	if !isDir(filepath.Join(staged, "training")) || !isDir(filepath.Join(staged, "testing")) {
		return "", pkgerrors.Wrapf(ErrCorruptArchive, "%s has no %s/{training,testing} layout", archive, opts.ExtractedDir)
	}
	if err := os.RemoveAll(extracted); err != nil {
		return "", fmt.Errorf("clear incomplete %s: %w", extracted, err)
	}
	if err := os.Rename(staged, extracted); err != nil {
		return "", fmt.Errorf("move extracted dataset: %w", err)
	}
	return extracted, nil
}

func download(ctx context.Context, client *http.Client, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return pkgerrors.Wrapf(ErrResourceUnavailable, "build request: %v", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return pkgerrors.Wrapf(ErrResourceUnavailable, "get %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return pkgerrors.Wrapf(ErrResourceUnavailable, "get %s: status %s", url, resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return pkgerrors.Wrapf(ErrResourceUnavailable, "download %s: %v", url, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close download: %w", err)
	}
	return os.Rename(tmp.Name(), dest)
}

func extractTarGz(archive, dest string) error {
	f, err := os.Open(archive)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(bufio.NewReader(f))
	if err != nil {
		return pkgerrors.Wrapf(ErrCorruptArchive, "gzip %s: %v", archive, err)
	}
	defer gz.Close()

	root, err := filepath.Abs(dest)
	if err != nil {
		return err
	}
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return pkgerrors.Wrapf(ErrCorruptArchive, "read tar: %v", err)
		}
		target := filepath.Join(root, filepath.FromSlash(hdr.Name))
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return pkgerrors.Wrapf(ErrCorruptArchive, "entry %q escapes %s", hdr.Name, dest)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := writeEntry(tr, target); err != nil {
				return err
			}
		default:
			// ignore links and special files
			continue
		}
	}
}

func writeEntry(r io.Reader, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(target), err)
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return pkgerrors.Wrapf(ErrCorruptArchive, "extract %s: %v", target, err)
	}
	return out.Close()
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
