package utils

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

var hexAddressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// ValidateStruct runs validator tags over a wire-facing struct. The
// HTTP layer fails closed on this before anything reaches the core.
func ValidateStruct(v interface{}) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// ValidateHexAddress checks the 0x-prefixed 20-byte address form.
func ValidateHexAddress(addr string) error {
	if !hexAddressRe.MatchString(addr) {
		return fmt.Errorf("invalid address %q", addr)
	}
	return nil
}
