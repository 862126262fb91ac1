package mailsync

import (
	"net/mail"

	"github.com/rbaliyan/mailsync/provider"
)

// isValidUserID checks if a user ID is valid. Valid user IDs are
// non-empty and contain only safe characters, which keeps them usable
// inside cache keys.
func isValidUserID(userID string) bool {
	if userID == "" {
		return false
	}
	for _, c := range userID {
		if c == '*' || c == ':' || c == '/' || c == '\\' ||
			c == ' ' || c == '\t' || c == '\n' || c == '\r' ||
			c < 32 || c == 127 {
			return false
		}
	}
	return true
}

func validateUserID(userID string) error {
	if !isValidUserID(userID) {
		return &ValidationError{Field: "userId", Message: "must be non-empty and contain no separator characters"}
	}
	return nil
}

func validateMessageID(messageID string) error {
	if messageID == "" {
		return &ValidationError{Field: "messageId", Message: "must not be empty"}
	}
	return nil
}

func validateOutgoing(msg provider.Outgoing) error {
	if msg.Subject == "" {
		return &ValidationError{Field: "subject", Message: "must not be empty"}
	}
	if msg.Body == "" {
		return &ValidationError{Field: "body", Message: "must not be empty"}
	}
	if len(msg.To) == 0 {
		return &ValidationError{Field: "to", Message: "at least one recipient is required"}
	}
	for _, a := range msg.To {
		if err := validateAddress(a); err != nil {
			return err
		}
	}
	for _, a := range msg.Cc {
		if err := validateAddress(a); err != nil {
			return err
		}
	}
	for _, a := range msg.Bcc {
		if err := validateAddress(a); err != nil {
			return err
		}
	}
	return nil
}

func validateAddress(a provider.Address) error {
	if _, err := mail.ParseAddress(a.Email); err != nil {
		return &ValidationError{Field: "email", Message: "invalid address " + a.Email}
	}
	return nil
}
