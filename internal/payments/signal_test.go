package payments

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		resultCode int
		resultDesc string
		want       classification
	}{
		{"success", 0, "The service request is processed successfully.", classifySuccess},
		{"insufficient funds", 1, "The balance is insufficient for the transaction", classifyFailure},
		{"subscriber busy", 1001, "Unable to lock subscriber", classifyFailure},
		{"transaction expired", 1019, "Transaction has expired", classifyFailure},
		{"push error", 1025, "An error occurred while sending a push request", classifyFailure},
		{"cancelled by user", 1032, "Request cancelled by user", classifyFailure},
		{"invalid initiator", 2001, "The initiator information is invalid", classifyFailure},
		{"push timeout stays open", 1037, "DS timeout user cannot be reached", classifyInconclusive},
		{"unknown code plain desc", 9999, "Processing", classifyInconclusive},
		{"unknown code failed keyword", 9999, "The transaction Failed", classifyFailure},
		{"unknown code error keyword", 4242, "internal ERROR occurred", classifyFailure},
		{"unknown code rejected keyword", 4242, "Request was Rejected upstream", classifyFailure},
		{"unknown code cancelled keyword", 4242, "cancelled before completion", classifyFailure},
		{"negative synthetic code", -1, "", classifyInconclusive},
		{"timeout desc does not fail 1037", 1037, "An error occurred", classifyInconclusive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.resultCode, tt.resultDesc))
		})
	}
}
