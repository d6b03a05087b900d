package message

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_message_ValidateFor(t *testing.T) {
	testCases := []struct {
		name          string
		messengerType MessengerType
		message       Message
		wantErr       error
	}{
		{
			name:          "email types need a non-empty email",
			messengerType: MessengerTypeAWSEmail,
			message:       Message{Title: "title", Body: "body"},
			wantErr:       fmt.Errorf("invalid message: email cannot be empty"),
		},
		{
			name:          "email types need a valid email",
			messengerType: MessengerTypeAWSEmail,
			message:       Message{ToEmail: "invalid-email", Title: "title", Body: "body"},
			wantErr:       fmt.Errorf("invalid message: the provided email is not valid"),
		},
		{
			name:          "email types need a non-empty title",
			messengerType: MessengerTypeAWSEmail,
			message:       Message{ToEmail: "foo@test.com", Title: "   ", Body: "body"},
			wantErr:       fmt.Errorf("title is empty"),
		},
		{
			name:          "all types need a non-empty body",
			messengerType: MessengerTypeAWSEmail,
			message:       Message{ToEmail: "foo@test.com", Title: "title", Body: "   "},
			wantErr:       fmt.Errorf("message is empty"),
		},
		{
			name:          "🎉 successfully validates an email message",
			messengerType: MessengerTypeAWSEmail,
			message:       Message{ToEmail: "foo@test.com", Title: "title", Body: "body"},
		},
		{
			name:          "🎉 successfully validates a dry-run message",
			messengerType: MessengerTypeDryRun,
			message:       Message{ToEmail: "foo@test.com", Title: "title", Body: "body"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.message.ValidateFor(tc.messengerType)
			if tc.wantErr != nil {
				require.Equal(t, tc.wantErr, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
