package protocol

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"
)

// contentDisposition guesses the download headers from the upload's
// filename. Media, text, JSON, JavaScript and wasm render inline,
// everything else downloads as an attachment.
func contentDisposition(filename string) (disposition, contentType string) {
	contentType = mime.TypeByExtension(filepath.Ext(filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	kind := strings.SplitN(contentType, "/", 2)[0]
	inline := false
	switch kind {
	case "image", "text", "audio", "video":
		inline = true
	case "application":
		switch {
		case strings.Contains(contentType, "json"),
			strings.Contains(contentType, "javascript"),
			strings.Contains(contentType, "wasm"):
			inline = true
		}
	}

	style := "attachment"
	if inline {
		style = "inline"
	}
	return fmt.Sprintf("%s; filename=%q", style, filename), contentType
}
