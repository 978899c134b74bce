package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	apperrors "raffle-ledger-backend/internal/common/errors"
)

const (
	MaxTitleLength       = 200
	MaxDescriptionLength = 2000
	MinTitleLength       = 1
)

// Referral codes are upper-case letters and digits.
var referralCodeRegex = regexp.MustCompile(`^[A-Z0-9]{4,16}$`)

// Title trims and checks a raffle title.
func Title(title string) (string, error) {
	title = strings.TrimSpace(title)
	n := utf8.RuneCountInString(title)
	if n < MinTitleLength {
		return "", apperrors.NewValidationError("title", "must not be empty")
	}
	if n > MaxTitleLength {
		return "", apperrors.NewValidationError("title", fmt.Sprintf("cannot exceed %d characters", MaxTitleLength))
	}
	return title, nil
}

// Description may be empty.
func Description(description string) (string, error) {
	description = strings.TrimSpace(description)
	if utf8.RuneCountInString(description) > MaxDescriptionLength {
		return "", apperrors.NewValidationError("description",
			fmt.Sprintf("cannot exceed %d characters", MaxDescriptionLength))
	}
	return description, nil
}

// ImageURL accepts an empty string or an absolute http(s) URL.
func ImageURL(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return apperrors.NewValidationError("image_url", "must be an absolute http or https URL")
	}
	return nil
}

func NonNegative(value int64, field string) error {
	if value < 0 {
		return apperrors.NewValidationError(field, "must not be negative")
	}
	return nil
}

func Positive(value int64, field string) error {
	if value <= 0 {
		return apperrors.NewValidationError(field, "must be positive")
	}
	return nil
}

// ReferralCode normalizes a user-typed code and checks its shape.
func ReferralCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !referralCodeRegex.MatchString(code) {
		return "", apperrors.NewValidationError("code", "must be 4 to 16 letters or digits")
	}
	return code, nil
}
