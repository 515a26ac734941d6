package api

import (
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func instance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// ValidateStruct runs struct tag validation on v and, on failure,
// returns a field-name -> human message map suitable for
// MalformedInput's details argument.
func ValidateStruct(v interface{}) map[string]interface{} {
	err := instance().Struct(v)
	if err == nil {
		return nil
	}
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return map[string]interface{}{"_": err.Error()}
	}
	out := make(map[string]interface{}, len(fieldErrs))
	for _, fe := range fieldErrs {
		out[strings.ToLower(fe.Field())] = fe.Tag()
	}
	return out
}
