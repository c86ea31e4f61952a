package condition

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"TriggerHub/internal/domain/models"
)

// idHexLen truncates the digest to 16 hex chars (64 bits). Collision
// probability stays negligible at the expected condition cardinality
// (≤10^6 distinct conditions).
const idHexLen = 16

// ID derives the stable identity key of a canonical spec.
func ID(spec *models.CanonicalSpec) string {
	sum := sha256.Sum256([]byte(CanonicalString(spec)))
	return hex.EncodeToString(sum[:])[:idHexLen]
}

// CanonicalString serializes a canonical spec with a fixed field order.
// The format is append-only: changing existing field order would rotate
// every stored condition id.
func CanonicalString(spec *models.CanonicalSpec) string {
	var b strings.Builder
	b.WriteString("kind=")
	b.WriteString(string(spec.Kind))
	b.WriteString("|symbol=")
	b.WriteString(spec.Symbol)
	b.WriteString("|tf=")
	b.WriteString(spec.Timeframe)

	if spec.Single != nil {
		b.WriteString("|")
		writeSingle(&b, spec.Single)
	}
	if spec.Playbook != nil {
		b.WriteString("|gate=")
		b.WriteString(string(spec.Playbook.Gate))
		for i := range spec.Playbook.Legs {
			leg := &spec.Playbook.Legs[i]
			b.WriteString("|leg{prio=")
			b.WriteString(strconv.Itoa(leg.Priority))
			b.WriteString(",tf=")
			b.WriteString(leg.Timeframe)
			b.WriteString(",validity=")
			b.WriteString(strconv.Itoa(leg.ValidityDuration))
			b.WriteString(string(leg.ValidityUnit))
			b.WriteString(",")
			writeSingle(&b, &leg.Single)
			b.WriteString("}")
		}
	}
	return b.String()
}

func writeSingle(b *strings.Builder, s *models.SingleSpec) {
	b.WriteString("ind=")
	b.WriteString(string(s.Indicator))
	b.WriteString(",period=")
	b.WriteString(strconv.Itoa(s.Period))
	b.WriteString(",op=")
	b.WriteString(string(s.Operator))
	if s.CompareIndicator != "" {
		b.WriteString(",cmp=")
		b.WriteString(string(s.CompareIndicator))
		b.WriteString(",cmpperiod=")
		b.WriteString(strconv.Itoa(s.ComparePeriod))
	} else {
		b.WriteString(",value=")
		b.WriteString(strconv.FormatFloat(s.Value, 'f', -1, 64))
	}
}
