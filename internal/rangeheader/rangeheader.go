// Package rangeheader parses HTTP Range header values of the bytes unit.
package rangeheader

import (
	"strconv"
	"strings"

	"github.com/holeshot/tilecache/pkg/errors"
	"github.com/holeshot/tilecache/pkg/types"
)

const unitPrefix = "bytes="

// Spec is one parsed range before it is bound to a resource size.
// End is -1 for an open range ("100-"); Start is -1 for a suffix range ("-500"),
// in which case End holds the suffix length.
type Spec struct {
	Start int64
	End   int64
}

// Open reports whether the range runs to the end of the resource.
func (s Spec) Open() bool { return s.Start >= 0 && s.End < 0 }

// Suffix reports whether the range selects the last End bytes.
func (s Spec) Suffix() bool { return s.Start < 0 }

// Resolve binds the range to a resource of size bytes.
// An end past the resource is clamped; a start past it is not satisfiable.
func (s Spec) Resolve(size int64) (types.ByteRange, error) {
	if size <= 0 {
		return types.ByteRange{}, unsatisfiable(size)
	}
	if s.Suffix() {
		n := s.End
		if n == 0 {
			return types.ByteRange{}, unsatisfiable(size)
		}
		if n > size {
			n = size
		}
		return types.ByteRange{Start: size - n, End: size - 1}, nil
	}
	if s.Start >= size {
		return types.ByteRange{}, unsatisfiable(size)
	}
	end := s.End
	if end < 0 || end >= size {
		end = size - 1
	}
	return types.ByteRange{Start: s.Start, End: end}, nil
}

// Parse splits a header such as "bytes=0-99, 200-" into its ranges.
// Multiple ranges are returned as-is; callers decide whether to serve them.
func Parse(header string) ([]Spec, error) {
	h := strings.TrimSpace(header)
	if len(h) < len(unitPrefix) || !strings.EqualFold(h[:len(unitPrefix)], unitPrefix) {
		return nil, malformed(header, "missing bytes= prefix")
	}

	var specs []Spec
	for _, part := range strings.Split(h[len(unitPrefix):], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		spec, err := parseOne(part)
		if err != nil {
			return nil, malformed(header, err.Error())
		}
		specs = append(specs, spec)
	}
	if len(specs) == 0 {
		return nil, malformed(header, "no ranges")
	}
	return specs, nil
}

// ParseOne parses header and fails with MULTI_RANGE_UNSUPPORTED when it
// names more than one range.
func ParseOne(header string) (Spec, error) {
	specs, err := Parse(header)
	if err != nil {
		return Spec{}, err
	}
	if len(specs) > 1 {
		return Spec{}, errors.NewError(errors.ErrCodeMultiRangeUnsupported,
			"only one range per request is supported").
			WithContext("range", header).
			WithDetail("ranges", len(specs))
	}
	return specs[0], nil
}

// ParseSingle parses a one-range header and resolves it against size.
func ParseSingle(header string, size int64) (types.ByteRange, error) {
	spec, err := ParseOne(header)
	if err != nil {
		return types.ByteRange{}, err
	}
	return spec.Resolve(size)
}

// Format renders r as a request header value.
func Format(r types.ByteRange) string {
	return unitPrefix + strconv.FormatInt(r.Start, 10) + "-" + strconv.FormatInt(r.End, 10)
}

func parseOne(part string) (Spec, error) {
	dash := strings.IndexByte(part, '-')
	if dash < 0 {
		return Spec{}, errors.NewError(errors.ErrCodeMalformedRequest, "missing '-' in "+strconv.Quote(part))
	}
	first, second := strings.TrimSpace(part[:dash]), strings.TrimSpace(part[dash+1:])

	if first == "" {
		n, err := parseBound(second)
		if err != nil {
			return Spec{}, err
		}
		return Spec{Start: -1, End: n}, nil
	}

	start, err := parseBound(first)
	if err != nil {
		return Spec{}, err
	}
	if second == "" {
		return Spec{Start: start, End: -1}, nil
	}
	end, err := parseBound(second)
	if err != nil {
		return Spec{}, err
	}
	if start > end {
		return Spec{}, errors.Newf(errors.ErrCodeMalformedRequest, "start %d after end %d", start, end)
	}
	return Spec{Start: start, End: end}, nil
}

// parseBound accepts plain decimal digits only; signs and spaces are rejected.
func parseBound(s string) (int64, error) {
	if s == "" {
		return 0, errors.NewError(errors.ErrCodeMalformedRequest, "empty bound")
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, errors.Newf(errors.ErrCodeMalformedRequest, "non-numeric bound %q", s)
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, errors.Newf(errors.ErrCodeMalformedRequest, "bound %q out of range", s)
	}
	return n, nil
}

func malformed(header, reason string) error {
	return errors.NewError(errors.ErrCodeMalformedRequest, "invalid range header: "+reason).
		WithComponent("rangeheader").
		WithContext("header", header)
}

func unsatisfiable(size int64) error {
	return errors.NewError(errors.ErrCodeRangeNotSatisfiable, "range not satisfiable").
		WithComponent("rangeheader").
		WithDetail("size", size)
}
