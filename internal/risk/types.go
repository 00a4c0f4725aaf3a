package risk

import (
	"encoding/json"
	"fmt"
	"strings"

	"execution-core/pkg/exchanges/common"
)

// Kind selects how a stop or target value is interpreted.
type Kind string

const (
	KindPoints     Kind = "points"
	KindPercentage Kind = "percentage"
	KindFixedPrice Kind = "fixedPrice"
)

// ParseKind accepts the canonical names case-insensitively, plus a few
// common aliases ("pts", "percent", "%", "price", "fixed").
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "points", "point", "pts":
		return KindPoints, nil
	case "percentage", "percent", "pct", "%":
		return KindPercentage, nil
	case "fixedprice", "fixed", "price":
		return KindFixedPrice, nil
	}
	return "", &InvalidRiskSpecError{Kind: Kind(s), Reason: "unknown kind"}
}

// UnmarshalJSON accepts the same spellings as ParseKind. Unknown names are
// kept verbatim and rejected when the level is derived.
func (k *Kind) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if parsed, err := ParseKind(s); err == nil {
		*k = parsed
	} else {
		*k = Kind(s)
	}
	return nil
}

// Spec is a relative or absolute protective level.
type Spec struct {
	Kind  Kind    `json:"kind"`
	Value float64 `json:"value"`
}

type (
	StopSpec   = Spec
	TargetSpec = Spec
)

// InvalidRiskSpecError reports a stop or target that cannot be turned into
// an absolute price.
type InvalidRiskSpecError struct {
	Kind   Kind
	Reason string
}

func (e *InvalidRiskSpecError) Error() string {
	if e.Kind == "" {
		return "invalid risk spec: " + e.Reason
	}
	return fmt.Sprintf("invalid risk spec %q: %s", e.Kind, e.Reason)
}

// SymbolSpec is the tick and lot metadata used for price math.
type SymbolSpec struct {
	Point   float64 `json:"point"`
	Digits  int     `json:"digits"`
	MinLot  float64 `json:"minLot"`
	MaxLot  float64 `json:"maxLot"`
	LotStep float64 `json:"lotStep"`
}

// DefaultSymbolSpec is used when the broker does not report a specification.
func DefaultSymbolSpec() SymbolSpec {
	return SymbolSpec{Point: 0.0001, Digits: 4, MinLot: 0.01, MaxLot: 100, LotStep: 0.01}
}

// FromBroker converts a broker specification; missing fields are defaulted.
func FromBroker(s common.SymbolSpecification) SymbolSpec {
	return SymbolSpec{
		Point:   s.Point,
		Digits:  s.Digits,
		MinLot:  s.MinLot,
		MaxLot:  s.MaxLot,
		LotStep: s.LotStep,
	}.WithDefaults()
}

// WithDefaults fills every non-positive field from DefaultSymbolSpec. Digits
// is only defaulted together with Point so a reported point keeps its
// implied precision.
func (s SymbolSpec) WithDefaults() SymbolSpec {
	def := DefaultSymbolSpec()
	if s.Point <= 0 {
		s.Point = def.Point
		if s.Digits <= 0 {
			s.Digits = def.Digits
		}
	}
	if s.Digits < 0 {
		s.Digits = 0
	}
	if s.MinLot <= 0 {
		s.MinLot = def.MinLot
	}
	if s.MaxLot <= 0 {
		s.MaxLot = def.MaxLot
	}
	if s.LotStep <= 0 {
		s.LotStep = def.LotStep
	}
	return s
}
