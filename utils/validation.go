package utils

import (
	"errors"
	"fmt"
	netmail "net/mail"
	"regexp"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const MaxUploadSize = 10 << 20

var (
	uppercase   = regexp.MustCompile(`[A-Z]`)
	lowercase   = regexp.MustCompile(`[a-z]`)
	digit       = regexp.MustCompile(`\d`)
	specialChar = regexp.MustCompile(`[!@#$%^&*()_+\-=\[\]{};':"\\|,.<>\/?]`)
	otpPattern  = regexp.MustCompile(`^\d{6}$`)
	hashtagWord = regexp.MustCompile(`^[\p{L}\p{N}_]+$`)
)

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

func ValidateEmail(email string) error {
	_, err := netmail.ParseAddress(email)
	if err != nil {
		return fmt.Errorf("please enter a valid email address: %w", err)
	}
	// ParseAddress accepts display names
	if strings.ContainsAny(email, "<> ") {
		return errors.New("please enter a valid email address")
	}
	return nil
}

// ValidatePassword enforces the registration password policy.
func ValidatePassword(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters long")
	}

	if !uppercase.MatchString(password) {
		return fmt.Errorf("password must contain at least one uppercase letter")
	}
	if !lowercase.MatchString(password) {
		return fmt.Errorf("password must contain at least one lowercase letter")
	}
	if !digit.MatchString(password) {
		return fmt.Errorf("password must contain at least one digit")
	}
	if !specialChar.MatchString(password) {
		return fmt.Errorf("password must contain at least one special character")
	}

	return nil
}

// ValidateLoginPassword only checks the minimum length accepted at sign in.
func ValidateLoginPassword(password string) error {
	if len(password) < 6 {
		return errors.New("password must be at least 6 characters")
	}
	return nil
}

func ValidateOTP(otp string) error {
	if !otpPattern.MatchString(otp) {
		return errors.New("please enter a valid verification code")
	}
	return nil
}

// ValidateHashtag accepts an optional single hashtag entered without '#'.
func ValidateHashtag(tag string) error {
	if tag == "" {
		return nil
	}
	if strings.HasPrefix(tag, "#") {
		return errors.New("enter hashtag without # symbol")
	}
	if len(tag) > 100 {
		return errors.New("hashtag must be at most 100 characters")
	}
	if !hashtagWord.MatchString(tag) {
		return errors.New("hashtag may only contain letters, digits and underscores")
	}
	return nil
}

// ValidateMedia checks an upload against the accepted media types and size.
func ValidateMedia(contentType string, size int64) error {
	if !strings.HasPrefix(contentType, "image/") && !strings.HasPrefix(contentType, "video/") {
		return errors.New("only image and video files can be uploaded")
	}
	if size > MaxUploadSize {
		return errors.New("file must be 10MB or smaller")
	}
	return nil
}

func SamePassword(password string, confirmedPassword string) bool {
	return password == confirmedPassword
}
