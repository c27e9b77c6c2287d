// Package sri implements Subresource Integrity strings: parsing,
// canonicalization, and multi-algorithm verification of content digests in
// the "algorithm-base64digest[?opt[?opt...]]" format used by the npm
// cacache on-disk layout.
package sri

import (
	"crypto/md5"  //nolint:gosec // digest algorithm named by the wire format, not used for security decisions
	"crypto/sha1" //nolint:gosec // ditto
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"regexp"
	"strings"
)

// Hash is a single parsed or computed integrity value: one algorithm, one
// base64-encoded digest, plus any trailing "?opt" tokens carried along
// verbatim.
type Hash struct {
	Source    string   // the exact token this hash was parsed from, if any
	Algorithm string   // free-form identifier, e.g. "sha512"
	Digest    string   // base64-encoded digest
	Options   []string // opaque "?"-separated option strings
}

// HexDigest returns the hash's digest decoded from base64 and re-encoded as
// hex, or an error if the digest is not valid base64.
func (h Hash) HexDigest() (string, error) {
	raw, err := base64.StdEncoding.DecodeString(h.Digest)
	if err != nil {
		return "", fmt.Errorf("sri: hash %q has invalid base64 digest: %w", h.Algorithm, err)
	}

	return hex.EncodeToString(raw), nil
}

// String renders the hash in canonical "algorithm-digest?opt?opt" form. It
// is empty when the hash has no algorithm or digest, so that Integrity.String
// can drop it as spec'd ("reject(empty)").
func (h Hash) String() string {
	if h.Algorithm == "" || h.Digest == "" {
		return ""
	}

	var b strings.Builder

	b.WriteString(h.Algorithm)
	b.WriteByte('-')
	b.WriteString(h.Digest)

	for _, opt := range h.Options {
		b.WriteByte('?')
		b.WriteString(opt)
	}

	return b.String()
}

// Integrity is an ordered multimap from algorithm name to the Hash values
// parsed or built for that algorithm, preserving the order algorithms were
// first seen (needed for pick_algorithm tie-breaking and canonical string
// form).
type Integrity struct {
	order  []string
	hashes map[string][]Hash
}

// NewIntegrity returns an empty Integrity ready to accumulate hashes via Add.
func NewIntegrity() Integrity {
	return Integrity{hashes: make(map[string][]Hash)}
}

// Add appends h to the list of hashes for its algorithm, recording the
// algorithm's first-seen position if this is the first hash of that kind.
func (i *Integrity) Add(h Hash) {
	if i.hashes == nil {
		i.hashes = make(map[string][]Hash)
	}

	if _, seen := i.hashes[h.Algorithm]; !seen {
		i.order = append(i.order, h.Algorithm)
	}

	i.hashes[h.Algorithm] = append(i.hashes[h.Algorithm], h)
}

// Algorithms returns the algorithms present, in first-seen order.
func (i Integrity) Algorithms() []string {
	out := make([]string, len(i.order))
	copy(out, i.order)

	return out
}

// Hashes returns the hashes recorded for algorithm, in the order they were
// added. The returned slice is nil when the algorithm is absent.
func (i Integrity) Hashes(algorithm string) []Hash {
	return i.hashes[algorithm]
}

// IsEmpty reports whether the Integrity carries no hashes at all.
func (i Integrity) IsEmpty() bool {
	return len(i.order) == 0
}

// FormatOptions configures Integrity.Format.
type FormatOptions struct {
	// Sep separates rendered hashes. Defaults to a single space.
	Sep string
	// Strict forces Sep to a single space regardless of the configured value.
	Strict bool
}

// Format renders the canonical string form: every non-empty hash string,
// in algorithm-then-insertion order, joined by Sep (default, and always
// under Strict, a single space).
func (i Integrity) Format(opts FormatOptions) string {
	sep := opts.Sep
	if sep == "" || opts.Strict {
		sep = " "
	}

	var parts []string

	for _, algo := range i.order {
		for _, h := range i.hashes[algo] {
			s := h.String()
			if s != "" {
				parts = append(parts, s)
			}
		}
	}

	return strings.Join(parts, sep)
}

// String renders the Integrity using the default single-space separator.
// Two Integrity values are equal iff their String() forms are equal.
func (i Integrity) String() string {
	return i.Format(FormatOptions{})
}

// Equal reports whether i and other have the same canonical string form.
func (i Integrity) Equal(other Integrity) bool {
	return i.String() == other.String()
}

// tokenPattern matches a single SRI token: algorithm, a dash, the base64
// digest, and an optional run of "?option" suffixes.
var tokenPattern = regexp.MustCompile(`^([^-]+)-([^?]+)((?:\?.*)?)$`)

var strictBase64Pattern = regexp.MustCompile(`^[A-Za-z0-9+/]+={0,2}$`)

var strictOptionPattern = regexp.MustCompile(`^[\x21-\x7e]+$`)

var strictAlgorithms = map[string]bool{
	"sha256": true,
	"sha384": true,
	"sha512": true,
}

// ParseOptions configures Parse.
type ParseOptions struct {
	// Strict restricts algorithms to sha256/sha384/sha512, digests to
	// RFC 4648 base64, and options to VCHAR (0x21-0x7E). Tokens that
	// violate these constraints are dropped rather than erroring.
	Strict bool
	// Single, when true, makes Parse stop after the first valid hash, so
	// the returned Integrity holds at most one hash. ParseSingle sets it
	// and returns that Hash directly.
	Single bool
}

// Parse splits s on whitespace and parses each token as an SRI hash.
// Malformed tokens are dropped. In non-strict mode, unrecognized algorithm
// names are kept; in strict mode, only sha256/sha384/sha512 with
// RFC 4648 base64 digests and VCHAR options survive.
func Parse(s string, opts ParseOptions) Integrity {
	result := NewIntegrity()

	for _, token := range strings.Fields(s) {
		h, ok := parseToken(token, opts.Strict)
		if !ok {
			continue
		}

		result.Add(h)

		if opts.Single {
			break
		}
	}

	return result
}

// ParseSingle parses s and returns only the first valid hash found.
func ParseSingle(s string, opts ParseOptions) (Hash, bool) {
	opts.Single = true

	parsed := Parse(s, opts)
	if parsed.IsEmpty() {
		return Hash{}, false
	}

	return parsed.Hashes(parsed.order[0])[0], true
}

func parseToken(token string, strict bool) (Hash, bool) {
	m := tokenPattern.FindStringSubmatch(token)
	if m == nil {
		return Hash{}, false
	}

	algorithm, digest, optsRaw := m[1], m[2], m[3]

	var options []string
	if optsRaw != "" {
		options = strings.Split(optsRaw, "?")[1:]
	}

	if strict {
		if !strictAlgorithms[algorithm] {
			return Hash{}, false
		}

		if !strictBase64Pattern.MatchString(digest) {
			return Hash{}, false
		}

		for _, opt := range options {
			if !strictOptionPattern.MatchString(opt) {
				return Hash{}, false
			}
		}
	}

	return Hash{
		Source:    token,
		Algorithm: algorithm,
		Digest:    digest,
		Options:   options,
	}, true
}

// FromDataOptions configures FromData.
type FromDataOptions struct {
	// Algorithms lists the digest algorithms to compute. Defaults to
	// []string{"sha512"}.
	Algorithms []string
	// Options are attached verbatim to every produced Hash.
	Options []string
}

// FromData computes one Hash per requested algorithm over data and returns
// them as an Integrity. It returns ErrNoSuchDigest (wrapped with the
// offending algorithm name) if any requested algorithm is unavailable.
func FromData(data []byte, opts FromDataOptions) (Integrity, error) {
	algorithms := opts.Algorithms
	if len(algorithms) == 0 {
		algorithms = []string{"sha512"}
	}

	result := NewIntegrity()

	for _, algo := range algorithms {
		h, err := newHash(algo)
		if err != nil {
			return Integrity{}, err
		}

		h.Write(data) //nolint:errcheck // hash.Hash.Write never fails

		result.Add(Hash{
			Algorithm: algo,
			Digest:    base64.StdEncoding.EncodeToString(h.Sum(nil)),
			Options:   opts.Options,
		})
	}

	return result, nil
}

// FromHex builds an Integrity with a single Hash decoded from a hex digest
// and re-encoded as base64.
func FromHex(hexDigest, algorithm string, options []string) (Integrity, error) {
	raw, err := hex.DecodeString(hexDigest)
	if err != nil {
		return Integrity{}, fmt.Errorf("sri: decode hex digest %q: %w", hexDigest, err)
	}

	result := NewIntegrity()
	result.Add(Hash{
		Algorithm: algorithm,
		Digest:    base64.StdEncoding.EncodeToString(raw),
		Options:   options,
	})

	return result, nil
}

// defaultAlgorithmPriority mirrors ssri's pick_algorithm ordering: later
// entries are preferred. Unknown algorithms score -1.
var defaultAlgorithmPriority = []string{"md5", "whirlpool", "sha1", "sha224", "sha256", "sha384", "sha512"}

func algorithmPriority(algorithm string) int {
	for i, a := range defaultAlgorithmPriority {
		if a == algorithm {
			return i
		}
	}

	return -1
}

// PickAlgorithmOptions configures Integrity.PickAlgorithm.
type PickAlgorithmOptions struct {
	// Pick overrides the default priority function. It receives the
	// algorithms present (in first-seen order) and must return one of them.
	Pick func(algorithms []string) string
}

// PickAlgorithm selects the "best" algorithm present in i: by default the
// one maximizing defaultAlgorithmPriority, ties broken by first-seen order.
// It fails with ErrNoIntegrity when i has no hashes.
func (i Integrity) PickAlgorithm(opts PickAlgorithmOptions) (string, error) {
	if i.IsEmpty() {
		return "", ErrNoIntegrity
	}

	if opts.Pick != nil {
		return opts.Pick(i.Algorithms()), nil
	}

	best := i.order[0]
	bestScore := algorithmPriority(best)

	for _, algo := range i.order[1:] {
		score := algorithmPriority(algo)
		if score > bestScore {
			best = algo
			bestScore = score
		}
	}

	return best, nil
}

// CheckOptions configures Check and CheckFile.
type CheckOptions struct {
	// Size, if non-nil, must match the length of the data being checked.
	Size *int64
	// PickAlgorithm overrides which algorithm is checked; see
	// Integrity.PickAlgorithm.
	PickAlgorithm PickAlgorithmOptions
}

// Check verifies data against integrity's best algorithm and returns the
// matching Hash. It fails with ErrContentSizeMismatch if opts.Size is set
// and disagrees with len(data), and with ErrIntegrityMismatch if no hash
// under the chosen algorithm matches.
func Check(data []byte, integrity Integrity, opts CheckOptions) (Hash, error) {
	if opts.Size != nil && int64(len(data)) != *opts.Size {
		return Hash{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrContentSizeMismatch, *opts.Size, len(data))
	}

	algo, err := integrity.PickAlgorithm(opts.PickAlgorithm)
	if err != nil {
		return Hash{}, err
	}

	h, err := newHash(algo)
	if err != nil {
		return Hash{}, err
	}

	h.Write(data) //nolint:errcheck // hash.Hash.Write never fails

	return matchDigest(integrity, algo, base64.StdEncoding.EncodeToString(h.Sum(nil)))
}

// Matches is the infallible form of Check.
func Matches(data []byte, integrity Integrity, opts CheckOptions) bool {
	_, err := Check(data, integrity, opts)

	return err == nil
}

// CheckFile verifies the file at path by streaming it, without loading the
// whole file into memory.
func CheckFile(path string, integrity Integrity, opts CheckOptions) (Hash, error) {
	f, err := os.Open(path) //nolint:gosec // path is supplied by the caller
	if err != nil {
		return Hash{}, fmt.Errorf("sri: open %q: %w", path, err)
	}

	defer func() { _ = f.Close() }()

	if opts.Size != nil {
		info, statErr := f.Stat()
		if statErr != nil {
			return Hash{}, fmt.Errorf("sri: stat %q: %w", path, statErr)
		}

		if info.Size() != *opts.Size {
			return Hash{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrContentSizeMismatch, *opts.Size, info.Size())
		}
	}

	algo, err := integrity.PickAlgorithm(opts.PickAlgorithm)
	if err != nil {
		return Hash{}, err
	}

	h, err := newHash(algo)
	if err != nil {
		return Hash{}, err
	}

	_, err = io.Copy(h, f)
	if err != nil {
		return Hash{}, fmt.Errorf("sri: read %q: %w", path, err)
	}

	return matchDigest(integrity, algo, base64.StdEncoding.EncodeToString(h.Sum(nil)))
}

// MatchesFile is the infallible form of CheckFile.
func MatchesFile(path string, integrity Integrity, opts CheckOptions) bool {
	_, err := CheckFile(path, integrity, opts)

	return err == nil
}

func matchDigest(integrity Integrity, algo, computedB64 string) (Hash, error) {
	for _, h := range integrity.Hashes(algo) {
		if h.Digest == computedB64 {
			return h, nil
		}
	}

	return Hash{}, fmt.Errorf("%w: no %s hash matches computed digest", ErrIntegrityMismatch, algo)
}

func newHash(algorithm string) (hash.Hash, error) {
	switch algorithm {
	case "md5":
		return md5.New(), nil //nolint:gosec // digest algorithm named by the wire format
	case "sha1":
		return sha1.New(), nil //nolint:gosec // ditto
	case "sha224":
		return sha256.New224(), nil
	case "sha256":
		return sha256.New(), nil
	case "sha384":
		return sha512.New384(), nil
	case "sha512":
		return sha512.New(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrNoSuchDigest, algorithm)
	}
}
