package payments

import "strings"

// Gateway result codes with fixed meanings.
const (
	CodeSuccess           = 0
	CodeInsufficientFunds = 1
	CodeSubscriberBusy    = 1001
	CodeExpired           = 1019
	CodePushError         = 1025
	CodeCancelledByUser   = 1032
	CodePushTimeout       = 1037
	CodeInvalidInitiator  = 2001
)

// definitiveFailures are codes that conclusively end a payment.
var definitiveFailures = map[int]struct{}{
	CodeInsufficientFunds: {},
	CodeSubscriberBusy:    {},
	CodeExpired:           {},
	CodePushError:         {},
	CodeCancelledByUser:   {},
	CodeInvalidInitiator:  {},
}

// failureKeywords classify an unknown code by its description.
var failureKeywords = []string{"failed", "error", "invalid", "rejected", "cancelled"}

// classification is what a non-success result code means for a pending
// transaction.
type classification int

const (
	classifySuccess classification = iota
	classifyFailure
	classifyInconclusive
)

// classify maps a result code and description onto a transition decision.
// Code 1037 (push timeout) means the customer has not acted yet and must
// not fail the transaction; unknown codes are treated the same way.
func classify(resultCode int, resultDesc string) classification {
	if resultCode == CodeSuccess {
		return classifySuccess
	}

	if resultCode == CodePushTimeout {
		return classifyInconclusive
	}

	if _, ok := definitiveFailures[resultCode]; ok {
		return classifyFailure
	}

	desc := strings.ToLower(resultDesc)
	for _, kw := range failureKeywords {
		if strings.Contains(desc, kw) {
			return classifyFailure
		}
	}

	return classifyInconclusive
}
