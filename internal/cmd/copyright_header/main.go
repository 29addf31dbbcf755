// Copyright 2023-2026 The Synapse Authors. SPDX-License-Identifier: Apache-2.0

// copyright_header adds the license header to the Go files missing it. With -check it
// only lists them, and fails if there is any.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagProject = flag.String("project", "Synapse", "Project name to use in the copyright header.")
	flagCheck   = flag.Bool("check", false, "Only list files missing the header, and exit with an error if there are any.")
)

func main() {
	klog.InitFlags(nil)
	flag.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, "Usage: %s [flags] [path ...]\n", os.Args[0])
		_, _ = fmt.Fprintf(os.Stderr, "\nEnumerates Go files and adds a copyright header if missing.\n")
		_, _ = fmt.Fprintf(os.Stderr, "Default path is current directory.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	roots := flag.Args()
	if len(roots) == 0 {
		roots = []string{"."}
	}
	missing, err := processRoots(roots, header(*flagProject), !*flagCheck)
	if err != nil {
		klog.Fatalf("%+v", err)
	}
	if *flagCheck && len(missing) > 0 {
		for _, path := range missing {
			fmt.Println(path)
		}
		klog.Errorf("%d files missing the copyright header", len(missing))
		os.Exit(1)
	}
}

func header(project string) string {
	return fmt.Sprintf("// Copyright 2023-2026 The %s Authors. SPDX-License-Identifier: Apache-2.0\n\n", project)
}

// processRoots walks the roots and returns the Go files missing a header. If fix is set,
// the header is added to them.
func processRoots(roots []string, header string, fix bool) (missing []string, err error) {
	for _, root := range roots {
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				name := d.Name()
				// Hidden directories, vendor and the leading underscore ones are ignored by the Go tool too.
				if (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_")) && path != root || name == "vendor" || name == "testdata" {
					return filepath.SkipDir
				}
				return nil
			}
			if !strings.HasSuffix(d.Name(), ".go") || strings.HasPrefix(d.Name(), "gen_") {
				return nil
			}
			content, err := os.ReadFile(path)
			if err != nil {
				return errors.Wrapf(err, "failed to read %q", path)
			}
			newContent, changed := addHeader(content, header)
			if !changed {
				return nil
			}
			missing = append(missing, path)
			if !fix {
				return nil
			}
			klog.Infof("Adding header to %s", path)
			if err := os.WriteFile(path, newContent, 0o644); err != nil {
				return errors.Wrapf(err, "failed to write %q", path)
			}
			return nil
		})
		if err != nil {
			return nil, errors.WithMessagef(err, "while walking %q", root)
		}
	}
	return missing, nil
}

// addHeader returns content with header inserted after the build constraints, if any.
// It returns false if content already has a copyright notice in its first lines.
func addHeader(content []byte, header string) ([]byte, bool) {
	lines := bytes.Split(content, []byte("\n"))
	lastBuildTag := -1
	for ii, line := range lines {
		if ii > 50 {
			break
		}
		trimmed := bytes.TrimSpace(line)
		if bytes.HasPrefix(trimmed, []byte("// Copyright")) {
			return content, false
		}
		if bytes.HasPrefix(trimmed, []byte("//go:build")) || bytes.HasPrefix(trimmed, []byte("// +build")) {
			lastBuildTag = ii
		}
	}
	if lastBuildTag == -1 {
		return append([]byte(header), content...), true
	}
	var buf bytes.Buffer
	buf.Write(bytes.Join(lines[:lastBuildTag+1], []byte("\n")))
	buf.WriteString("\n\n")
	buf.WriteString(header)
	buf.Write(bytes.TrimLeft(bytes.Join(lines[lastBuildTag+1:], []byte("\n")), "\n"))
	return buf.Bytes(), true
}
