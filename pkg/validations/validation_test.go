package validations

import (
	"testing"

	"github.com/asaskevich/govalidator"
	"github.com/stretchr/testify/assert"
)

type sample struct {
	OperationType string `json:"operation_type" valid:"required,nospace"`
	State         string `json:"state" valid:"required,reportedstate"`
	Severity      string `json:"severity" valid:"severity,optional"`
}

func TestCustomValidations(t *testing.T) {
	RegisterCustomValidations()
	// Registration twice must be harmless
	RegisterCustomValidations()

	ok, err := govalidator.ValidateStruct(sample{OperationType: "token_creation", State: "confirmed", Severity: "critical"})
	assert.True(t, ok)
	assert.NoError(t, err)

	cases := map[string]sample{
		"whitespace operation": {OperationType: "token creation", State: "failed"},
		"non terminal state":   {OperationType: "x", State: "retrying"},
		"unknown state":        {OperationType: "x", State: "done"},
		"unknown severity":     {OperationType: "x", State: "failed", Severity: "fatal"},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			ok, err := govalidator.ValidateStruct(c)
			assert.False(t, ok)
			assert.Error(t, err)
		})
	}
}
