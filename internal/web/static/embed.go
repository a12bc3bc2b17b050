// Package static embeds the built browser client.
package static

import (
	"embed"
	"io/fs"
)

//go:embed all:dist/*
var distFS embed.FS

// FS returns the embedded dist directory as the file system root.
func FS() fs.FS {
	fsys, err := fs.Sub(distFS, "dist")
	if err != nil {
		panic(err)
	}
	return fsys
}

// HasIndex reports whether the build contains an index.html.
func HasIndex() bool {
	_, err := fs.Stat(distFS, "dist/index.html")
	return err == nil
}
