package digest

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SidecarPath returns the path of the sidecar digest file for path and
// algorithm: the payload's base name (extension stripped) plus the
// algorithm's canonical extension, in the same directory.
func SidecarPath(path string, alg Algorithm) string {
	base := strings.TrimSuffix(path, filepath.Ext(path))
	return base + "." + alg.Extension()
}

// ReadSidecar looks for a sidecar digest file next to path and returns the
// hex digest recorded in it. Accepted first-line forms:
//
//	<hex> *<filename>   (coreutils binary mode)
//	<hex>  <filename>   (coreutils text mode)
//	<hex>               (bare digest of exactly the expected length)
//
// The filename, when present, must match path's base name (case-sensitive).
// A missing sidecar or an unrecognized first line yields an empty string,
// not an error.
func ReadSidecar(path string, alg Algorithm) (string, error) {
	f, err := os.Open(SidecarPath(path, alg))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("opening sidecar: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("reading sidecar: %w", err)
		}
		return "", nil
	}

	return parseSidecarLine(scanner.Text(), filepath.Base(path), alg), nil
}

// parseSidecarLine extracts the digest from a single sidecar line, or
// returns "" if the line does not match any accepted form.
func parseSidecarLine(line, basename string, alg Algorithm) string {
	line = strings.TrimRight(line, "\r\n")
	want := alg.HexLength()

	// Bare hex digest.
	if len(line) == want && isHex(line) {
		return strings.ToLower(line)
	}

	// <hex> *<filename> or <hex>  <filename>
	if len(line) < want+2 {
		return ""
	}
	hexPart := line[:want]
	if !isHex(hexPart) {
		return ""
	}
	rest := line[want:]

	var name string
	switch {
	case strings.HasPrefix(rest, " *"):
		name = rest[2:]
	case strings.HasPrefix(rest, "  "):
		name = rest[2:]
	default:
		return ""
	}

	if filepath.Base(name) != basename {
		return ""
	}
	return strings.ToLower(hexPart)
}

func isHex(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return len(s) > 0
}

// WriteSidecar computes the digest of path and writes a sidecar file in
// coreutils binary-mode format: "<hex> *<basename>\n". The sidecar is
// written to a temporary file in the same directory and renamed into place
// so a partially written sidecar is never observed.
func WriteSidecar(path string, alg Algorithm) error {
	sum, err := Compute(path, alg)
	if err != nil {
		return err
	}

	target := SidecarPath(path, alg)
	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temporary sidecar: %w", err)
	}
	tmpPath := tmp.Name()

	_, err = fmt.Fprintf(tmp, "%s *%s\n", sum, filepath.Base(path))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing sidecar: %w", err)
	}

	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming sidecar into place: %w", err)
	}
	return nil
}
