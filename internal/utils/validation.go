package utils

import (
	"fmt"
	"regexp"

	"github.com/asaskevich/govalidator"
	"github.com/shopspring/decimal"
)

var (
	rxSellerID = regexp.MustCompile(`^[0-9]{1,20}$`)

	ErrInvalidSellerID = fmt.Errorf("the provided seller ID is not a valid numeric marketplace ID")
)

// ValidateSellerID checks that the value looks like a marketplace seller ID,
// which is always a numeric string.
func ValidateSellerID(sellerID string) error {
	if sellerID == "" {
		return fmt.Errorf("seller ID cannot be empty")
	}

	if !rxSellerID.MatchString(sellerID) {
		return ErrInvalidSellerID
	}

	return nil
}

func ValidateAmount(amount string) error {
	if amount == "" {
		return fmt.Errorf("amount cannot be empty")
	}

	value, err := decimal.NewFromString(amount)
	if err != nil {
		return fmt.Errorf("the provided amount is not a valid number")
	}

	if value.Sign() <= 0 {
		return fmt.Errorf("the provided amount must be greater than zero")
	}

	return nil
}

// RxEmail is a regex used to validate e-mail addresses, according with the reference https://www.alexedwards.net/blog/validation-snippets-for-go#email-validation.
// It's free to use under the [MIT Licence](https://opensource.org/licenses/MIT)
var rxEmail = regexp.MustCompile("^[a-zA-Z0-9.!#$%&'*+\\/=?^_`{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$")

func ValidateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("email cannot be empty")
	}

	if !rxEmail.MatchString(email) {
		return fmt.Errorf("the provided email is not valid")
	}

	return nil
}

// ValidateURL will validate the given string as an absolute http(s) URL.
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("url cannot be empty")
	}

	if !govalidator.IsURL(rawURL) {
		return fmt.Errorf("%q is not a valid URL", rawURL)
	}

	return nil
}
