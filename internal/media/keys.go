package media

import (
	"path"
	"strings"

	"github.com/google/uuid"
)

const (
	defaultKeyPrefix  = "videos"
	originalQuality   = "original"
	originalObject    = "original/video.mp4"
	posterObject      = "poster.jpg"
	placeholderObject = ".placeholder"
)

// KeyLayout maps asset folders and version paths onto object keys. Folders
// are `<prefix>/<uuid>`; version paths are relative to the prefix.
type KeyLayout struct {
	Prefix string
}

func (l KeyLayout) prefix() string {
	prefix := strings.Trim(strings.TrimSpace(l.Prefix), "/")
	if prefix == "" {
		return defaultKeyPrefix
	}
	return prefix
}

// NewFolder mints a fresh random folder for an asset.
func (l KeyLayout) NewFolder() string {
	return l.prefix() + "/" + uuid.NewString()
}

// FolderID returns the random segment of a folder.
func (l KeyLayout) FolderID(folder string) string {
	return path.Base(strings.TrimRight(folder, "/"))
}

// RenditionKey is the object key for one encoded profile.
func (l KeyLayout) RenditionKey(folder, profile string) string {
	return strings.TrimRight(folder, "/") + "/" + profile + ".mp4"
}

// OriginalKey is the object key for the untranscoded fallback.
func (l KeyLayout) OriginalKey(folder string) string {
	return strings.TrimRight(folder, "/") + "/" + originalObject
}

// PosterKey is the object key for the poster frame.
func (l KeyLayout) PosterKey(folder string) string {
	return strings.TrimRight(folder, "/") + "/" + posterObject
}

// PlaceholderKey is the empty object written when an upload is registered.
func (l KeyLayout) PlaceholderKey(folder string) string {
	return strings.TrimRight(folder, "/") + "/" + placeholderObject
}

// PresignPath is the prefix-relative path clients use to stream a version.
func (l KeyLayout) PresignPath(folder, quality string) string {
	id := l.FolderID(folder)
	if quality == originalQuality {
		return id + "/" + originalObject
	}
	return id + "/" + quality + ".mp4"
}

// ExpectedKeys lists every object an asset folder may hold.
func (l KeyLayout) ExpectedKeys(folder string, profiles ProfileTable) []string {
	keys := make([]string, 0, profiles.Len()+3)
	for _, profile := range profiles.Profiles() {
		keys = append(keys, l.RenditionKey(folder, profile.Name))
	}
	return append(keys, l.OriginalKey(folder), l.PosterKey(folder), l.PlaceholderKey(folder))
}

// ObjectKey resolves a client-supplied key into a full object key. Keys may
// be given relative to the prefix or already carry it. Traversal segments and
// empty keys are rejected.
func (l KeyLayout) ObjectKey(key string) (string, error) {
	trimmed := strings.Trim(strings.TrimSpace(key), "/")
	if trimmed == "" {
		return "", validationError(msgInvalidKey)
	}
	for _, segment := range strings.Split(trimmed, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return "", validationError(msgInvalidKey)
		}
	}
	prefix := l.prefix()
	if strings.HasPrefix(trimmed, prefix+"/") {
		return trimmed, nil
	}
	return prefix + "/" + trimmed, nil
}

// FolderOf returns the asset folder a full object key belongs to, or "" when
// the key is not under the prefix.
func (l KeyLayout) FolderOf(objectKey string) string {
	prefix := l.prefix() + "/"
	if !strings.HasPrefix(objectKey, prefix) {
		return ""
	}
	rest := strings.TrimPrefix(objectKey, prefix)
	id, _, found := strings.Cut(rest, "/")
	if !found || id == "" {
		return ""
	}
	return prefix + id
}
