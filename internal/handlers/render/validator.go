package render

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

func newValidator() *validator.Validate {
	validate := validator.New()
	validate.RegisterCustomTypeFunc(decimalValue, decimal.Decimal{})
	_ = validate.RegisterValidation("money", validateMoney)
	validate.RegisterTagNameFunc(useJSONTagNames)
	return validate
}

// Return on 'TagName' json tag instead of struct name
// Look at documentation of 'RegisterTagNameFunc' for more details
func useJSONTagNames(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	// skip if tag key says it should be ignored
	if name == "-" {
		return ""
	}
	return name
}

// Validate decimals by their string form
func decimalValue(v reflect.Value) any {
	if d, ok := v.Interface().(decimal.Decimal); ok {
		return d.String()
	}
	return nil
}

// Positive decimal amount in major units with at most two decimal places
func validateMoney(fl validator.FieldLevel) bool {
	amount, err := decimal.NewFromString(fl.Field().String())
	if err != nil {
		return false
	}

	return amount.IsPositive() && amount.Equal(amount.Truncate(2))
}
