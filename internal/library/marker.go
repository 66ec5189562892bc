package library

import (
	"path"
	"strings"

	"mediashuffler/internal/inventory"
)

// SentSuffix tags the filename of dispatched media so sent files are
// recognizable without consulting the store. Libraries that already carry
// tagged files are honored as-is.
const SentSuffix = "_Sent"

// HasSentMarker reports whether a file or key name carries the sent tag.
func HasSentMarker(name string) bool {
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	return strings.HasSuffix(stem, SentSuffix)
}

// SentName returns name with the sent tag inserted before the extension.
// Already-tagged names are returned unchanged.
func SentName(name string) string {
	if HasSentMarker(name) {
		return name
	}
	ext := path.Ext(name)
	return strings.TrimSuffix(name, ext) + SentSuffix + ext
}

// UnsentName strips the sent tag, returning the original name.
func UnsentName(name string) string {
	if !HasSentMarker(name) {
		return name
	}
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	return strings.TrimSuffix(stem, SentSuffix) + ext
}

// SentKey / UnsentKey apply the tag transform to the basename of a slash
// separated catalog key.
func SentKey(key string) string {
	dir, base := path.Split(key)
	return dir + SentName(base)
}

func UnsentKey(key string) string {
	dir, base := path.Split(key)
	return dir + UnsentName(base)
}

// TypeForExt classifies a file extension into a media type.
// The supported set is {jpg, png, gif, webp, mp4}; anything else is skipped
// by the scanner.
func TypeForExt(ext string) (inventory.MediaType, bool) {
	switch strings.ToLower(ext) {
	case ".jpg", ".png", ".webp":
		return inventory.TypeImage, true
	case ".gif":
		return inventory.TypeAnimation, true
	case ".mp4":
		return inventory.TypeVideo, true
	default:
		return "", false
	}
}
