package message

import (
	"fmt"
	"strings"

	"github.com/sellerledger/marketplace-reconciler-backend/internal/utils"
)

type Message struct {
	ToEmail string
	Title   string
	Body    string
}

// ValidateFor validates if the message object is valid for the given messengerType.
func (s *Message) ValidateFor(messengerType MessengerType) error {
	if messengerType.IsEmail() {
		if err := utils.ValidateEmail(s.ToEmail); err != nil {
			return fmt.Errorf("invalid message: %w", err)
		}

		if strings.Trim(s.Title, " ") == "" {
			return fmt.Errorf("title is empty")
		}
	}

	if strings.Trim(s.Body, " ") == "" {
		return fmt.Errorf("message is empty")
	}

	return nil
}
