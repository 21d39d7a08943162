package daemon

import (
	"io/fs"
	"net/http"
	"strings"
)

// downloadsHandler serves the download directory, hiding dotfiles such as
// the session file.
func downloadsHandler(dir string) http.Handler {
	return http.FileServer(hiddenFS{http.Dir(dir)})
}

type hiddenFS struct {
	http.FileSystem
}

func (h hiddenFS) Open(name string) (http.File, error) {
	for _, part := range strings.Split(name, "/") {
		if strings.HasPrefix(part, ".") && part != "." {
			return nil, fs.ErrNotExist
		}
	}
	return h.FileSystem.Open(name)
}
