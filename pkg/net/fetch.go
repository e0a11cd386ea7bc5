// Package net fetches the raw dataset from a local path or an http(s) URL.
package net

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

const dirMode = 0700

// ErrorURLNotFound is returned when the server responds with 404.
var ErrorURLNotFound = errors.New("URL not found")

// IsURL reports whether src is an http or https URL.
func IsURL(src string) bool {
	u, err := url.Parse(src)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Fetch copies src to dst. The destination is replaced atomically so a failed
// fetch never leaves a partial file behind.
func Fetch(ctx context.Context, src, dst string) error {
	if src == "" || dst == "" {
		return errors.New("source and destination required")
	}
	if err := os.MkdirAll(filepath.Dir(dst), dirMode); err != nil {
		return errors.Wrapf(err, "failed to create dir for: %s", dst)
	}

	if IsURL(src) {
		return download(ctx, src, dst)
	}

	if same, err := sameFile(src, dst); err != nil {
		return err
	} else if same {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "error opening source: %s", src)
	}
	defer in.Close()
	return writeAtomic(dst, in)
}

func download(ctx context.Context, src, dst string) error {
	resp, err := getResp(ctx, src)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errors.Wrap(ErrorURLNotFound, src)
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("error downloading file (status: %d - %s): %s", resp.StatusCode, resp.Status, src)
	}
	return writeAtomic(dst, resp.Body)
}

func writeAtomic(dst string, r io.Reader) (retErr error) {
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".fetch-*")
	if err != nil {
		return errors.Wrapf(err, "error creating temp file for: %s", dst)
	}
	defer func() {
		if retErr != nil {
			os.Remove(tmp.Name())
		}
	}()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return errors.Wrap(err, "error saving fetched content")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "error closing temp file")
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return errors.Wrapf(err, "error moving fetched content to: %s", dst)
	}
	return nil
}

func sameFile(a, b string) (bool, error) {
	ai, err := os.Stat(a)
	if err != nil {
		return false, errors.Wrapf(err, "error reading source: %s", a)
	}
	bi, err := os.Stat(b)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "error reading destination: %s", b)
	}
	return os.SameFile(ai, bi), nil
}
