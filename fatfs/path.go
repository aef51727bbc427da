package fatfs

import (
	"path"
	"strconv"
	"strings"
)

// invalidChars may not appear in a file name.
const invalidChars = "\"*:<>?|\\\x7f"

// splitDrive separates an "N:" drive prefix from p. ok is false if p has
// no prefix.
func splitDrive(p string) (pdrv int, rest string, ok bool) {
	colon := strings.IndexByte(p, ':')
	if colon <= 0 {
		return 0, p, false
	}
	n, err := strconv.Atoi(p[:colon])
	if err != nil || n < 0 {
		return -1, p[colon+1:], true
	}
	return n, p[colon+1:], true
}

// validName reports whether every element of the slash separated path p
// is a legal long file name.
func validName(p string) bool {
	for _, elem := range strings.Split(p, "/") {
		if strings.ContainsAny(elem, invalidChars) {
			return false
		}
		for _, r := range elem {
			if r < 0x20 {
				return false
			}
		}
		if len(elem) > 255 {
			return false
		}
	}
	return true
}

// join resolves p against the directory cwd and cleans the result. The
// result is absolute and never ends in a slash except for the root.
func join(cwd, p string) string {
	if !strings.HasPrefix(p, "/") {
		p = cwd + "/" + p
	}
	return path.Clean("/" + p)
}

// split returns the parent directory and final element of the absolute
// path p.
func split(p string) (dir, name string) {
	dir, name = path.Split(p)
	if dir != "/" {
		dir = strings.TrimSuffix(dir, "/")
	}
	return dir, name
}

// displayPath formats p on drive pdrv the way Getcwd reports it.
func displayPath(pdrv uint8, p string) string {
	return strconv.Itoa(int(pdrv)) + ":" + p
}
