package notefile

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
)

// DefaultFolder is used when a note has no folder or the folder is unknown.
const DefaultFolder = "notes/"

const maxSlugLength = 50

// Letters, digits, hiragana, katakana and CJK ideographs survive slugging.
var slugInvalid = regexp.MustCompile(`[^a-z0-9\x{3040}-\x{309f}\x{30a0}-\x{30ff}\x{4e00}-\x{9faf}]+`)

// Slug turns a title into a file name stem.
func Slug(title string) string {
	s := strings.ToLower(title)
	s = slugInvalid.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if r := []rune(s); len(r) > maxSlugLength {
		s = string(r[:maxSlugLength])
	}
	return s
}

// FilePath derives the repository path for a new note:
// {folder}{slug}-{suffix}.md. An empty slug falls back to "untitled-note".
func FilePath(folder, title string, suffix int64) string {
	slug := Slug(title)
	if slug == "" {
		slug = "untitled-note"
	}
	return CleanFolder(folder) + slug + "-" + strconv.FormatInt(suffix, 10) + ".md"
}

// CleanFolder normalizes a folder path to the "a/b/" form. The repository
// root is the empty string.
func CleanFolder(folder string) string {
	folder = strings.TrimSpace(strings.ReplaceAll(folder, "\\", "/"))
	folder = strings.Trim(folder, "/")
	if folder == "" || folder == "." {
		return ""
	}
	return path.Clean(folder) + "/"
}

// Rebase moves a note path into another folder, keeping its file name.
func Rebase(p, folder string) string {
	return CleanFolder(folder) + path.Base(p)
}

// ValidPath reports whether p is a relative, clean ".md" path that stays
// inside the repository.
func ValidPath(p string) error {
	switch {
	case p == "":
		return fmt.Errorf("empty path")
	case strings.HasPrefix(p, "/") || strings.Contains(p, "\\"):
		return fmt.Errorf("path %q must be relative and use forward slashes", p)
	case path.Clean(p) != p:
		return fmt.Errorf("path %q is not clean", p)
	case p == ".." || strings.HasPrefix(p, "../"):
		return fmt.Errorf("path %q escapes the repository", p)
	case path.Ext(p) != ".md":
		return fmt.Errorf("path %q is not a markdown file", p)
	}
	return nil
}

// Revision returns the content hash identifying data: the git blob object
// name, so local working trees and hosted repositories agree on it.
func Revision(data []byte) string {
	h := sha1.New()
	fmt.Fprintf(h, "blob %d\x00", len(data))
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
