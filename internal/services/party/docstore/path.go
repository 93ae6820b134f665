package docstore

import (
	"strings"

	apperrors "github.com/louisbranch/questparty/internal/platform/errors"
)

// Ref is a parsed store path.
type Ref struct {
	// Root names the root document, always two segments.
	Root string
	// Rest is the path inside the root document; empty addresses the root.
	Rest []string
}

// String returns the canonical slash-separated form.
func (r Ref) String() string {
	if len(r.Rest) == 0 {
		return r.Root
	}
	return r.Root + "/" + strings.Join(r.Rest, "/")
}

// ParsePath validates and splits a store path.
func ParsePath(path string) (Ref, error) {
	trimmed := strings.Trim(strings.TrimSpace(path), "/")
	if trimmed == "" {
		return Ref{}, apperrors.New(apperrors.CodeInvalidArgument, "path is required")
	}
	segments := strings.Split(trimmed, "/")
	for _, segment := range segments {
		if strings.TrimSpace(segment) == "" || segment == "." || segment == ".." {
			return Ref{}, apperrors.WithMetadata(apperrors.CodeInvalidArgument, "path has an empty or relative segment", map[string]string{"Path": path})
		}
	}
	if len(segments) < 2 {
		return Ref{}, apperrors.WithMetadata(apperrors.CodeInvalidArgument, "path must address a document inside a collection", map[string]string{"Path": path})
	}
	return Ref{
		Root: segments[0] + "/" + segments[1],
		Rest: segments[2:],
	}, nil
}

// Join builds a path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}
