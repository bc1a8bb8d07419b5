package report

import "testing"

func TestDecodeSchemaEvolution(t *testing.T) {
	t.Run("defaults riskFactors for old payloads", func(t *testing.T) {
		// Payload written before riskFactors/positiveSignals existed.
		data := []byte(`{"handle":"pentosh1","trustScore":72,"verdict":"trusted","summary":"Long-standing trader account."}`)
		r, err := Decode(data)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if r.RiskFactors == nil || len(r.RiskFactors) != 0 {
			t.Errorf("expected empty riskFactors, got %#v", r.RiskFactors)
		}
		if r.PositiveSignals == nil {
			t.Error("expected positiveSignals defaulted to empty list")
		}
		if r.Citations == nil {
			t.Error("expected citations defaulted to empty list")
		}
	})

	t.Run("drops unknown fields", func(t *testing.T) {
		data := []byte(`{"handle":"x","summary":"s","legacyField":123}`)
		if _, err := Decode(data); err != nil {
			t.Fatalf("unknown fields should be dropped, got %v", err)
		}
	})

	t.Run("defaults missing verdict", func(t *testing.T) {
		r, err := Decode([]byte(`{"handle":"x","summary":"s"}`))
		if err != nil {
			t.Fatal(err)
		}
		if r.Verdict != VerdictInsufficient {
			t.Errorf("expected insufficient verdict default, got %q", r.Verdict)
		}
	})

	t.Run("rejects non-JSON", func(t *testing.T) {
		if _, err := Decode([]byte("not json")); err == nil {
			t.Error("expected error for malformed payload")
		}
	})

	t.Run("rejects empty object", func(t *testing.T) {
		if _, err := Decode([]byte(`{}`)); err == nil {
			t.Error("expected error for payload with no identifying fields")
		}
	})
}

func TestSparse(t *testing.T) {
	full := &TrustReport{
		Handle:    "x",
		Summary:   "something",
		Citations: []Citation{{Title: "t", URL: "https://example.com"}},
	}
	if full.Sparse() {
		t.Error("report with summary and citations should not be sparse")
	}

	if !(&TrustReport{Handle: "x", Summary: "something"}).Sparse() {
		t.Error("report without citations should be sparse")
	}
	if !(&TrustReport{Handle: "x"}).Sparse() {
		t.Error("report without summary should be sparse")
	}

	var nilReport *TrustReport
	if !nilReport.Sparse() {
		t.Error("nil report should be sparse")
	}
}

func TestInsufficient(t *testing.T) {
	r := Insufficient("pentosh1")
	if r.Handle != "pentosh1" {
		t.Errorf("unexpected handle %q", r.Handle)
	}
	if r.Verdict != VerdictInsufficient {
		t.Errorf("unexpected verdict %q", r.Verdict)
	}
	if r.RiskFactors == nil || r.PositiveSignals == nil || r.Citations == nil {
		t.Error("fallback payload must have non-nil lists")
	}
}
