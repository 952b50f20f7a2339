package execution

import (
	"strings"

	"github.com/michaelpento.lv/cyclearb/types"
)

var failurePatterns = []struct {
	reason   types.FailureReason
	patterns []string
}{
	{types.FailureInsufficientLiquidity, []string{"INSUFFICIENT_LIQUIDITY"}},
	{types.FailureExcessiveSlippage, []string{"INSUFFICIENT_OUTPUT_AMOUNT", "Too little received"}},
	{types.FailureDeadlineExceeded, []string{"EXPIRED", "Transaction too old"}},
	{types.FailureGasEstimation, []string{"gas required exceeds", "estimate gas"}},
}

// Classify maps a raw settlement error onto a failure reason for operators. It
// never drives retries.
func Classify(err error) types.FailureReason {
	if err == nil {
		return types.FailureNone
	}
	msg := err.Error()
	for _, fp := range failurePatterns {
		for _, p := range fp.patterns {
			if strings.Contains(msg, p) {
				return fp.reason
			}
		}
	}
	return types.FailureUnknown
}
