package timeline

import (
	"fmt"
	"math/big"
	"strings"
)

// Segment is the share of the total load that this instance runs, expressed
// as a half-open interval [From, To) of the unit interval.
type Segment struct {
	From *big.Rat
	To   *big.Rat
}

// FullSegment covers the whole run.
func FullSegment() Segment {
	return Segment{From: big.NewRat(0, 1), To: big.NewRat(1, 1)}
}

// ParseSegment parses "from:to" where each bound is a fraction ("1/3"),
// a decimal ("0.5") or a percentage ("50%"). An empty string is the full run.
func ParseSegment(s string) (Segment, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return FullSegment(), nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return Segment{}, fmt.Errorf("execution segment %q must have the form from:to", s)
	}

	from, err := parseRat(parts[0])
	if err != nil {
		return Segment{}, fmt.Errorf("execution segment %q: %w", s, err)
	}
	to, err := parseRat(parts[1])
	if err != nil {
		return Segment{}, fmt.Errorf("execution segment %q: %w", s, err)
	}

	zero, one := big.NewRat(0, 1), big.NewRat(1, 1)
	if from.Cmp(zero) < 0 || to.Cmp(one) > 0 || from.Cmp(to) >= 0 {
		return Segment{}, fmt.Errorf("execution segment %q must satisfy 0 <= from < to <= 1", s)
	}
	return Segment{From: from, To: to}, nil
}

// ParseSequence parses a comma separated list of increasing segment
// boundaries such as "0,1/3,2/3,1".
func ParseSequence(s string) ([]*big.Rat, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	var points []*big.Rat
	for _, p := range strings.Split(s, ",") {
		r, err := parseRat(p)
		if err != nil {
			return nil, fmt.Errorf("execution segment sequence %q: %w", s, err)
		}
		if n := len(points); n > 0 && r.Cmp(points[n-1]) <= 0 {
			return nil, fmt.Errorf("execution segment sequence %q must be strictly increasing", s)
		}
		points = append(points, r)
	}
	return points, nil
}

// InSequence reports whether both bounds of the segment are consecutive
// points of the sequence. An empty sequence accepts any segment.
func (s Segment) InSequence(seq []*big.Rat) bool {
	if len(seq) == 0 {
		return true
	}
	for i := 0; i+1 < len(seq); i++ {
		if seq[i].Cmp(s.From) == 0 && seq[i+1].Cmp(s.To) == 0 {
			return true
		}
	}
	return false
}

// IsFull reports whether the segment covers the whole run.
func (s Segment) IsFull() bool {
	return s.From.Sign() == 0 && s.To.Cmp(big.NewRat(1, 1)) == 0
}

// Scale returns this segment's share of n: floor(n*to) - floor(n*from).
// Shares of adjacent segments always add up to n.
func (s Segment) Scale(n int64) int64 {
	if n <= 0 {
		return n
	}
	return floorMul(n, s.To) - floorMul(n, s.From)
}

// ScaleRate returns the segment's share of a continuous rate.
func (s Segment) ScaleRate(r float64) float64 {
	length := new(big.Rat).Sub(s.To, s.From)
	f, _ := length.Float64()
	return r * f
}

func (s Segment) String() string {
	return s.From.RatString() + ":" + s.To.RatString()
}

func floorMul(n int64, r *big.Rat) int64 {
	prod := new(big.Rat).Mul(big.NewRat(n, 1), r)
	q := new(big.Int).Quo(prod.Num(), prod.Denom())
	return q.Int64()
}

func parseRat(s string) (*big.Rat, error) {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "%") {
		r, ok := new(big.Rat).SetString(strings.TrimSuffix(s, "%"))
		if !ok {
			return nil, fmt.Errorf("invalid percentage %q", s)
		}
		return r.Quo(r, big.NewRat(100, 1)), nil
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, fmt.Errorf("invalid number %q", s)
	}
	return r, nil
}
