// Package recipepath maps hierarchical recipe paths ("dir/sub/name") onto the
// flat storage keys ("dir:sub:name") used by the key-value store, and owns the
// ".cook" file extension convention.
//
// Encode and Decode assume a path that already passed Validate.
package recipepath

import (
	"fmt"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/cookshelf/internal/apperr"
)

const (
	// Separator joins segments of a recipe path.
	Separator = "/"
	// KeySeparator joins segments of a storage key.
	KeySeparator = ":"
	// Ext is the file extension of a stored recipe.
	Ext = ".cook"
)

// Parentheses are accepted so that names disambiguated as "Soup (1)" stay
// addressable.
var (
	pathRe    = regexp.MustCompile(`^(?:[\p{L}\p{N}_ +%.()-]+/)*[\p{L}\p{N}_ +%.()-]+$`)
	segmentRe = regexp.MustCompile(`^[\p{L}\p{N}_ +%.()-]+$`)
)

// Validate checks that path is a well-formed recipe path.
func Validate(path string) error {
	err := validation.Validate(path,
		validation.Required,
		validation.Match(pathRe).Error("must be slash-separated segments of letters, digits, space and _ + % . ( ) -"),
	)
	if err != nil {
		return fmt.Errorf("%w: %q: %s", apperr.ErrInvalidPath, path, err.Error())
	}
	for _, seg := range strings.Split(path, Separator) {
		if seg == "." || seg == ".." {
			return fmt.Errorf("%w: %q: relative segment", apperr.ErrInvalidPath, path)
		}
	}
	return nil
}

// ValidateDir is Validate for directories, where the empty string names the root.
func ValidateDir(dir string) error {
	dir = strings.Trim(dir, Separator)
	if dir == "" {
		return nil
	}
	return Validate(dir)
}

// ValidateName checks a single file or directory name supplied by a client.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is empty", apperr.ErrInvalidPath)
	}
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q: name must not contain path separators", apperr.ErrInvalidPath, name)
	}
	if !segmentRe.MatchString(name) || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", apperr.ErrInvalidPath, name)
	}
	return nil
}

// Encode converts a recipe path into its storage key.
func Encode(path string) string {
	return strings.ReplaceAll(path, Separator, KeySeparator)
}

// Decode converts a storage key back into a recipe path.
func Decode(key string) string {
	return strings.ReplaceAll(key, KeySeparator, Separator)
}

// FileKey returns the extension-bearing key under which key is stored.
func FileKey(key string) string {
	return key + Ext
}

// HasExt reports whether a storage key names a recipe file.
func HasExt(key string) bool {
	return strings.HasSuffix(key, Ext)
}

// TrimExt strips the recipe extension from a storage key, if present.
func TrimExt(key string) string {
	return strings.TrimSuffix(key, Ext)
}

// Split returns the directory (in path form) and the final segment of an
// extension-free storage key. dir is empty for recipes at the root.
func Split(key string) (dir, name string) {
	i := strings.LastIndex(key, KeySeparator)
	if i < 0 {
		return "", key
	}
	return Decode(key[:i]), key[i+1:]
}

// Join builds a recipe path from a directory and a name. Leading and
// trailing separators on dir are ignored.
func Join(dir, name string) string {
	dir = strings.Trim(dir, Separator)
	if dir == "" {
		return name
	}
	return dir + Separator + name
}
