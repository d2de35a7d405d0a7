package sim

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Diagnostic names one violated invariant with the expected and observed
// values that disagreed.
type Diagnostic struct {
	Invariant string
	Expected  string
	Observed  string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: expected %s, observed %s", d.Invariant, d.Expected, d.Observed)
}

// Verdict is the result of verifying one step. A verdict passes only when no
// diagnostic was recorded; a mismatch is never retried and never downgraded.
type Verdict struct {
	Action      string
	Actor       common.Address
	Params      string
	Checks      int
	Diagnostics []Diagnostic
}

// NewVerdict starts an empty verdict for the given step.
func NewVerdict(action string, actor common.Address, params Params) *Verdict {
	v := &Verdict{Action: action, Actor: actor}
	if params != nil {
		v.Params = params.String()
	}
	return v
}

// Pass reports whether every recorded check held.
func (v *Verdict) Pass() bool { return len(v.Diagnostics) == 0 }

// Fail records a violated invariant.
func (v *Verdict) Fail(invariant, expected, observed string) {
	v.Checks++
	v.Diagnostics = append(v.Diagnostics, Diagnostic{
		Invariant: invariant,
		Expected:  expected,
		Observed:  observed,
	})
}

// Failf records a violated invariant with a formatted observation.
func (v *Verdict) Failf(invariant, expected, format string, args ...any) {
	v.Fail(invariant, expected, fmt.Sprintf(format, args...))
}

// RequireEqualBig checks expected == observed for big integers. Nil observed
// values count as missing data and fail the check outright.
func (v *Verdict) RequireEqualBig(invariant string, expected, observed *big.Int) bool {
	v.Checks++
	if expected == nil {
		v.Diagnostics = append(v.Diagnostics, Diagnostic{invariant, "<computable>", "expected value missing"})
		return false
	}
	if observed == nil {
		v.Diagnostics = append(v.Diagnostics, Diagnostic{invariant, expected.String(), "<missing>"})
		return false
	}
	if expected.Cmp(observed) != 0 {
		v.Diagnostics = append(v.Diagnostics, Diagnostic{invariant, expected.String(), observed.String()})
		return false
	}
	return true
}

// RequireEqualUint checks expected == observed for unsigned integers.
func (v *Verdict) RequireEqualUint(invariant string, expected, observed uint64) bool {
	v.Checks++
	if expected != observed {
		v.Diagnostics = append(v.Diagnostics, Diagnostic{
			invariant,
			fmt.Sprintf("%d", expected),
			fmt.Sprintf("%d", observed),
		})
		return false
	}
	return true
}

// RequireTrue records a failure with the given expectation when cond is
// false.
func (v *Verdict) RequireTrue(invariant string, cond bool, expected, observed string) bool {
	v.Checks++
	if !cond {
		v.Diagnostics = append(v.Diagnostics, Diagnostic{invariant, expected, observed})
	}
	return cond
}

func (v *Verdict) String() string {
	if v.Pass() {
		return fmt.Sprintf("%s by %s: pass (%d checks)", v.Action, v.Actor.Hex(), v.Checks)
	}
	msgs := make([]string, len(v.Diagnostics))
	for i, d := range v.Diagnostics {
		msgs[i] = d.String()
	}
	return fmt.Sprintf("%s by %s: FAIL [%s]", v.Action, v.Actor.Hex(), strings.Join(msgs, "; "))
}
