package storage

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"go-identity-service/pkg/apierror"
)

// PathValidator maps object keys onto files below a root directory and
// refuses any key that would escape it.
type PathValidator struct {
	rootAbs string
}

func NewPathValidator(root string) (*PathValidator, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("image root cannot be empty")
	}

	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve image root: %w", err)
	}

	return &PathValidator{rootAbs: rootAbs}, nil
}

func (v *PathValidator) RootAbs() string {
	return v.rootAbs
}

// ResolveKey returns the absolute file path for key. Keys are slash
// separated and relative; the root itself is not addressable.
func (v *PathValidator) ResolveKey(key string) (string, error) {
	normalized := strings.ReplaceAll(strings.TrimSpace(key), `\`, "/")
	normalized = strings.TrimPrefix(normalized, "/")
	if normalized == "" {
		return "", apierror.BadRequest("invalid object key", key)
	}

	if hasControlCharacters(normalized) {
		return "", apierror.BadRequest("object key contains invalid characters", key)
	}

	for _, segment := range strings.Split(normalized, "/") {
		if segment == ".." {
			return "", apierror.Forbidden("object key escapes image root")
		}
	}

	cleanRel := filepath.Clean(filepath.FromSlash(normalized))
	if cleanRel == "." {
		return "", apierror.BadRequest("invalid object key", key)
	}

	resolved, err := filepath.Abs(filepath.Join(v.rootAbs, cleanRel))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path: %w", err)
	}

	if !isWithinRoot(v.rootAbs, resolved) || resolved == v.rootAbs {
		return "", apierror.Forbidden("object key escapes image root")
	}

	return resolved, nil
}

func hasControlCharacters(value string) bool {
	for _, char := range value {
		if char == 0 || unicode.IsControl(char) {
			return true
		}
	}
	return false
}

func isWithinRoot(rootAbs string, candidateAbs string) bool {
	if candidateAbs == rootAbs {
		return true
	}
	return strings.HasPrefix(candidateAbs, rootAbs+string(filepath.Separator))
}
