// Package report defines the trust report payload produced by the AI research
// step and stored in the content cache. The cache treats the payload as
// opaque; this package owns its shape and its evolution across deploys.
package report

import (
	"encoding/json"
	"fmt"
	"time"
)

// Verdict summarizes the overall assessment of a handle.
type Verdict string

const (
	VerdictTrusted      Verdict = "trusted"
	VerdictCaution      Verdict = "caution"
	VerdictHighRisk     Verdict = "high_risk"
	VerdictInsufficient Verdict = "insufficient_information"
)

// Citation is one supporting web source returned by the grounded AI call.
type Citation struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// TrustReport is the structured result of researching a social-media handle.
type TrustReport struct {
	Handle          string     `json:"handle"`
	DisplayName     string     `json:"displayName,omitempty"`
	TrustScore      int        `json:"trustScore"` // 0-100
	Verdict         Verdict    `json:"verdict"`
	Summary         string     `json:"summary"`
	RiskFactors     []string   `json:"riskFactors"`
	PositiveSignals []string   `json:"positiveSignals"`
	Citations       []Citation `json:"citations"`
	SearchQueries   []string   `json:"searchQueries,omitempty"`
	GeneratedAt     time.Time  `json:"generatedAt,omitempty"`
}

// Decode unmarshals a stored payload, applying defaults for fields introduced
// after the payload was written. Cached entries can outlive several deploys;
// a payload that predates a schema change is repaired, not rejected. Unknown
// fields are dropped by the standard decoder.
func Decode(data []byte) (*TrustReport, error) {
	var r TrustReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	if r.Handle == "" && r.Summary == "" {
		return nil, fmt.Errorf("decode report: missing required fields")
	}
	applyDefaults(&r)
	return &r, nil
}

func applyDefaults(r *TrustReport) {
	if r.RiskFactors == nil {
		r.RiskFactors = []string{}
	}
	if r.PositiveSignals == nil {
		r.PositiveSignals = []string{}
	}
	if r.Citations == nil {
		r.Citations = []Citation{}
	}
	if r.Verdict == "" {
		r.Verdict = VerdictInsufficient
	}
}

// Sparse reports whether the report carries no corroborating evidence: no
// summary or no citations backing the claims.
func (r *TrustReport) Sparse() bool {
	return r == nil || r.Summary == "" || len(r.Citations) == 0
}

// Insufficient builds the canonical fallback payload returned when the
// upstream result is empty or has no corroborating evidence. Substituting a
// uniform payload keeps client-side handling identical to the normal case.
func Insufficient(handle string) *TrustReport {
	return &TrustReport{
		Handle:          handle,
		TrustScore:      0,
		Verdict:         VerdictInsufficient,
		Summary:         "Not enough public information was found to assess this account.",
		RiskFactors:     []string{},
		PositiveSignals: []string{},
		Citations:       []Citation{},
		GeneratedAt:     time.Now().UTC(),
	}
}
