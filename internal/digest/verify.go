package digest

import (
	"fmt"
	"os"
	"strings"
)

// OutcomeKind classifies the result of a verification.
type OutcomeKind string

const (
	// KindOK means the computed digest matched the expected one.
	KindOK OutcomeKind = "ok"
	// KindInvalidInput means the caller supplied an empty expected digest.
	KindInvalidInput OutcomeKind = "invalid_input"
	// KindFileMissing means the target file does not exist.
	KindFileMissing OutcomeKind = "file_missing"
	// KindComputeError means the digest could not be computed (read failure,
	// unsupported algorithm). Distinct from a mismatch.
	KindComputeError OutcomeKind = "compute_error"
	// KindMismatch means the digest was computed but did not match.
	KindMismatch OutcomeKind = "mismatch"
)

// Outcome is the structured result of a digest verification.
// A failed verification is a result, not an error.
type Outcome struct {
	OK        bool
	Kind      OutcomeKind
	Path      string
	Algorithm Algorithm
	Expected  string
	Computed  string
	Size      int64
	Reason    string
}

// Verify computes the digest of the file at path and compares it,
// case-insensitively, against expectedHex.
func Verify(path, expectedHex string, alg Algorithm) Outcome {
	out := Outcome{
		Path:      path,
		Algorithm: alg,
		Expected:  strings.ToLower(expectedHex),
	}

	if strings.TrimSpace(expectedHex) == "" {
		out.Kind = KindInvalidInput
		out.Reason = "expected digest is empty"
		return out
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			out.Kind = KindFileMissing
			out.Reason = fmt.Sprintf("file does not exist: %s", path)
		} else {
			out.Kind = KindComputeError
			out.Reason = fmt.Sprintf("stat failed: %v", err)
		}
		return out
	}
	out.Size = info.Size()

	computed, err := Compute(path, alg)
	if err != nil {
		out.Kind = KindComputeError
		out.Reason = err.Error()
		return out
	}
	out.Computed = computed

	if !strings.EqualFold(computed, expectedHex) {
		out.Kind = KindMismatch
		out.Reason = fmt.Sprintf("digest mismatch: expected %s, computed %s", out.Expected, computed)
		return out
	}

	out.OK = true
	out.Kind = KindOK
	return out
}

// VerifyAsync schedules Verify on a worker goroutine and returns a channel
// that will receive exactly one Outcome. The channel is buffered, so the
// caller may drop it without blocking the worker. There is no cancellation.
func VerifyAsync(path, expectedHex string, alg Algorithm) <-chan Outcome {
	ch := make(chan Outcome, 1)
	go func() {
		ch <- Verify(path, expectedHex, alg)
	}()
	return ch
}
