package auth

import (
	"chat-relay/errors"
	"fmt"
	"unicode"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// MaxCredentialLength caps usernames and plain passwords on login.
const MaxCredentialLength = 64

type LoginRequest struct {
	Username string `validate:"required,max=64"`
	Proof    string `validate:"required,max=4096"`
}

type RegisterRequest struct {
	Username    string `validate:"required,max=64,printascii,excludesall= "`
	DisplayName string `validate:"required,max=64"`
	Password    string `validate:"required,min=12,max=72"`
}

// ValidateLogin checks the login frame fields. A plain password is held to
// MaxCredentialLength, a token only to the generic proof cap.
func ValidateLogin(req LoginRequest) error {
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidCredentials, err)
	}
	if !LooksLikeToken(req.Proof) && len(req.Proof) > MaxCredentialLength {
		return fmt.Errorf("%w: password longer than %d characters",
			errors.ErrInvalidCredentials, MaxCredentialLength)
	}
	return nil
}

func ValidateRegister(req RegisterRequest) error {
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidPassword, err)
	}
	if req.Username == "public" {
		return fmt.Errorf("%w: username %q is reserved", errors.ErrInvalidPassword, req.Username)
	}
	if !isPasswordComplex(req.Password) {
		return errors.ErrInvalidPassword
	}
	return nil
}

func isPasswordComplex(s string) bool {
	var (
		hasUpper   = false
		hasLower   = false
		hasNumber  = false
		hasSpecial = false
	)
	for _, char := range s {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsNumber(char):
			hasNumber = true
		case unicode.IsPunct(char) || unicode.IsSymbol(char):
			hasSpecial = true
		}
	}
	return hasUpper && hasLower && hasNumber && hasSpecial
}
