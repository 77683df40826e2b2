package validator

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

var (
	validate *validator.Validate

	usernameRe = regexp.MustCompile(`^[A-Za-z0-9@.+_-]+$`)
)

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	// 错误里使用表单字段名
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("form"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	_ = validate.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernameRe.MatchString(fl.Field().String())
	})
}

type TicketPayload struct {
	Title       string `form:"title" validate:"required,max=128"`
	Description string `form:"description" validate:"max=2048"`
}

type ReviewPayload struct {
	Headline string `form:"headline" validate:"required,max=128"`
	Rating   int    `form:"rating" validate:"min=0,max=5"`
	Body     string `form:"body" validate:"max=8192"`
}

type SignupPayload struct {
	Username string `form:"username" validate:"required,max=150,username"`
	Password string `form:"password1" validate:"required,min=8"`
	Confirm  string `form:"password2" validate:"required,eqfield=Password"`
}

type LoginPayload struct {
	Username string `form:"username" validate:"required"`
	Password string `form:"password" validate:"required"`
}

type FollowPayload struct {
	Username string `form:"username" validate:"required,max=150"`
}

func (p *TicketPayload) Validate() error { return validate.Struct(p) }
func (p *ReviewPayload) Validate() error { return validate.Struct(p) }
func (p *SignupPayload) Validate() error { return validate.Struct(p) }
func (p *LoginPayload) Validate() error  { return validate.Struct(p) }
func (p *FollowPayload) Validate() error { return validate.Struct(p) }

// FieldErrors flattens a validation failure into form field -> message.
// Errors that are not validation failures are reported under "__all__".
func FieldErrors(err error) map[string]string {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"__all__": err.Error()}
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		if _, ok := out[fe.Field()]; ok {
			continue
		}
		out[fe.Field()] = message(fe)
	}
	return out
}

// ValidationErrorResponse turns a validation failure into a single readable error.
func ValidationErrorResponse(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Field(), message(fe)))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required."
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("Ensure this value has at most %s characters.", fe.Param())
		}
		return fmt.Sprintf("Ensure this value is less than or equal to %s.", fe.Param())
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("Ensure this value has at least %s characters.", fe.Param())
		}
		return fmt.Sprintf("Ensure this value is greater than or equal to %s.", fe.Param())
	case "eqfield":
		return "The two password fields didn't match."
	case "username":
		return "Enter a valid username. This value may contain only letters, numbers, and @/./+/-/_ characters."
	}
	return fmt.Sprintf("Invalid value (%s).", fe.Tag())
}
