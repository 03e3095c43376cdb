package http

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

var validate = newValidator()

// newValidator reports fields by the name the client sent: the query tag,
// then the json tag, then the Go field name.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"query", "json"} {
			name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
			if name != "" && name != "-" {
				return name
			}
		}
		return f.Name
	})
	return v
}

// Bind fills req from the query string and body, applies `default` tags to
// fields left empty and validates the result. It returns nil when req is
// usable.
func Bind(c echo.Context, req any) []ValidationError {
	if err := c.Bind(req); err != nil {
		return requestErrors(err)
	}
	if err := defaults.Set(req); err != nil {
		return requestErrors(err)
	}
	if err := validate.StructCtx(c.Request().Context(), req); err != nil {
		return requestErrors(err)
	}
	return nil
}

func requestErrors(err error) []ValidationError {
	var fes validator.ValidationErrors
	if !errors.As(err, &fes) {
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			msg = fmt.Sprint(he.Message)
		}
		return []ValidationError{{Code: "ERR_BIND", Message: msg}}
	}
	out := make([]ValidationError, 0, len(fes))
	for _, fe := range fes {
		out = append(out, ValidationError{
			Code:    "ERR_" + strings.ToUpper(fe.Tag()),
			Field:   fe.Field(),
			Message: fe.Field() + " " + describe(fe),
			Params:  limitParams(fe),
		})
	}
	return out
}

var ruleText = map[string]string{
	"required": "is required",
	"alphanum": "must be alphanumeric",
	"gt":       "must be greater than %s",
	"gte":      "must be at least %s",
	"lt":       "must be less than %s",
	"lte":      "must be at most %s",
}

func describe(fe validator.FieldError) string {
	tag, param := fe.Tag(), fe.Param()
	switch tag {
	case "min", "max":
		bound := "at least"
		if tag == "max" {
			bound = "at most"
		}
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be %s %s characters", bound, param)
		}
		return fmt.Sprintf("must be %s %s", bound, param)
	case "oneof":
		return "must be one of " + strings.Join(strings.Fields(param), ", ")
	}
	if text, ok := ruleText[tag]; ok {
		if strings.Contains(text, "%s") {
			return fmt.Sprintf(text, param)
		}
		return text
	}
	return "fails " + tag
}

func limitParams(fe validator.FieldError) map[string]any {
	switch fe.Tag() {
	case "min", "gte", "gt":
		return map[string]any{"min": fe.Param()}
	case "max", "lte", "lt":
		return map[string]any{"max": fe.Param()}
	case "oneof":
		return map[string]any{"options": strings.Fields(fe.Param())}
	}
	return nil
}
