// All global custom validations in Tidewatch are defined here.
// These validations are allowed to be used anywhere in the application.

package validations

import (
	"Tidewatch/internal/entity"
	"sync"

	"github.com/asaskevich/govalidator"
)

var once sync.Once

// This function registers custom validation tags to be used as annotations in struct.
// After registering and adding the annotation, govalidator.ValidateStruct will trigger the validation.
func RegisterCustomValidations() {
	once.Do(func() {
		// This global validation doesn't allow whitespace in input.
		govalidator.TagMap["nospace"] = govalidator.Validator(func(str string) bool {
			return !govalidator.HasWhitespace(str)
		})
		// Only confirmed and failed can be reported by collaborators.
		govalidator.TagMap["reportedstate"] = govalidator.Validator(func(str string) bool {
			state, ok := entity.ParseTransactionState(str)
			return ok && state.Terminal()
		})
		govalidator.TagMap["severity"] = govalidator.Validator(func(str string) bool {
			_, ok := entity.ParseSeverity(str)
			return ok
		})
	})
}
