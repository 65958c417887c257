// Package pathguard normalizes user-supplied paths the way §4.7 specifies:
// no "..", no empty segments, control bytes rejected, a fixed mount point
// composed onto the result. Grounded on the original firmware's
// normalize_path/sanitize_name, translated from a manual byte-scanning
// C routine into the same algorithm over strings.Split, as a small
// dedicated parser rather than a general path library — the design notes
// call for exactly this over regex or os-specific path packages, since the
// virtual path space has its own traversal rules independent of the host
// OS's.
package pathguard

import (
	"strings"

	"github.com/yarrco/ewmill/opkind"
)

const (
	MaxPathLen = 256
	MaxNameLen = 96
)

// Normalize applies the rules of §4.7 in order and returns the normalized
// virtual path (always beginning with "/", never containing ".."), or a
// BadPath/PathTooLong/BadName OpError. The total-length limit is checked
// before the per-name limit, so an over-long path reports PathTooLong even
// when one of its names is also over MaxNameLen.
func Normalize(input string) (string, error) {
	if input == "" || input == "/" {
		return "/", nil
	}

	if !strings.HasPrefix(input, "/") {
		input = "/" + input
	}

	segments := strings.Split(input, "/")
	var kept []string
	for _, seg := range segments {
		if seg == "" || seg == "." {
			continue
		}
		if seg == ".." {
			return "", opkind.New(opkind.BadPath)
		}
		if err := checkSegment(seg); err != nil {
			return "", err
		}
		kept = append(kept, seg)
	}

	result := "/" + strings.Join(kept, "/")
	if len(kept) == 0 {
		result = "/"
	}

	if len(result) > MaxPathLen {
		return "", opkind.New(opkind.PathTooLong)
	}
	for _, seg := range kept {
		if len(seg) > MaxNameLen {
			return "", opkind.New(opkind.BadName)
		}
	}
	return result, nil
}

// checkSegment rejects control bytes and path separators within a single
// segment; Normalize has already split on "/" so a literal "/" inside a
// segment can only arise from a smuggled byte, and "\\" is rejected
// defensively since the original firmware treats it as a separator too.
func checkSegment(seg string) error {
	for i := 0; i < len(seg); i++ {
		c := seg[i]
		if c < 0x20 || c == '/' || c == '\\' {
			return opkind.New(opkind.BadPath)
		}
	}
	return nil
}

// SanitizeName applies the name rules §4.7 imposes on rename/mkdir targets:
// reject control bytes, "/", "\\", and the literal names "." and "..".
func SanitizeName(name string) (string, error) {
	if name == "" {
		return "", opkind.New(opkind.NameRequired)
	}
	if len(name) > MaxNameLen {
		return "", opkind.New(opkind.BadName)
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c < 0x20 || c == '/' || c == '\\' {
			return "", opkind.New(opkind.BadName)
		}
	}
	if name == "." || name == ".." {
		return "", opkind.New(opkind.BadName)
	}
	return name, nil
}

// MountPath composes the mount point with a normalized virtual path,
// reserving the mount point as step 7 of §4.7 requires.
func MountPath(mountPoint, virtualPath string) string {
	if virtualPath == "/" {
		return strings.TrimSuffix(mountPoint, "/")
	}
	return strings.TrimSuffix(mountPoint, "/") + virtualPath
}
