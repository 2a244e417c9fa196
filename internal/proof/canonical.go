package proof

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// ActionSignature is the tuple the Voter uses for deterministic tie-break:
// a canonical JSON serialization with sorted keys and no whitespace, so
// the same proof always sorts the same way regardless of map iteration
// order (spec §9: "implementations must fix the canonicalization").
func ActionSignature(p PatchProof) (string, error) {
	canon, err := canonicalize(map[string]any{
		"workcell_id": p.WorkcellID,
		"issue_id":    p.IssueID,
		"head_commit": p.Patch.HeadCommit,
		"status":      string(p.Status),
	})
	if err != nil {
		return "", fmt.Errorf("proof: failed to canonicalize action signature: %w", err)
	}
	return canon, nil
}

// canonicalize renders v as JSON with recursively sorted object keys and no
// insignificant whitespace, independent of map iteration order.
func canonicalize(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := writeCanonical(&buf, generic); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}
}

// CheckInvariants validates the cross-field invariants of spec §3 that
// every proof must satisfy before being persisted.
func CheckInvariants(p PatchProof) error {
	if len(p.Patch.ForbiddenPathViolations) > 0 {
		if p.RiskClassification != RiskCritical {
			return fmt.Errorf("proof: forbidden path violations present but risk_classification=%s, want critical", p.RiskClassification)
		}
		if p.Verification.AllPassed {
			return fmt.Errorf("proof: forbidden path violations present but verification.all_passed=true")
		}
	}
	computedAllPassed := true
	for _, g := range p.Verification.Gates {
		if !g.Passed {
			computedAllPassed = false
			break
		}
	}
	if len(p.Verification.Gates) > 0 && p.Verification.AllPassed != computedAllPassed {
		return fmt.Errorf("proof: verification.all_passed=%v does not match AND over gates=%v", p.Verification.AllPassed, computedAllPassed)
	}
	return nil
}
