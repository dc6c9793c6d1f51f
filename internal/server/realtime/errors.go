package realtime

import (
	"errors"

	"github.com/dmitrijs2005/gophchat/internal/common"
)

// Messages shown to clients. Store failures never leak their cause.
const (
	msgReceiverRequired = "Receiver ID is required."
	msgSelfMessage      = "Cannot send messages to yourself."
	msgReceiverMissing  = "Receiver does not exist."
	msgEmptyMessage     = "Message must contain text, image or video."
	msgInvalidIDs       = "Invalid sender or receiver ID."
	msgSendFailed       = "An error occurred while sending the message."

	msgTargetRequired = "No target user ID provided."
	msgInvalidTarget  = "Invalid user ID provided."
	msgUserNotFound   = "User not found."
	msgPageFailed     = "An error occurred."

	msgSeenTargetRequired = "msgByUserId is required for the seen event."
	msgConversationAbsent = "Conversation not found."
	msgSeenFailed         = "An error occurred while updating message seen status."

	msgSidebarFailed = "Failed to retrieve conversations."

	msgUnsupportedMedia = "Unsupported media kind."
	msgUploadFailed     = "Could not prepare the upload."

	msgMalformed   = "Malformed event payload."
	msgUnknown     = "Unknown event."
	msgRateLimited = "Too many events, slow down."
	msgInternal    = "Internal server error."
)

// sendMessageError maps a failed new-message to the text sent back.
func sendMessageError(err error) string {
	switch {
	case errors.Is(err, common.ErrReceiverRequired):
		return msgReceiverRequired
	case errors.Is(err, common.ErrSelfConversation):
		return msgSelfMessage
	case errors.Is(err, common.ErrUserNotFound):
		return msgReceiverMissing
	case errors.Is(err, common.ErrEmptyMessage):
		return msgEmptyMessage
	case errors.Is(err, common.ErrInvalidUserID):
		return msgInvalidIDs
	case errors.Is(err, common.ErrMalformedPayload):
		return msgMalformed
	default:
		return msgSendFailed
	}
}

func messagePageError(err error) string {
	switch {
	case errors.Is(err, common.ErrTargetRequired):
		return msgTargetRequired
	case errors.Is(err, common.ErrInvalidUserID):
		return msgInvalidTarget
	case errors.Is(err, common.ErrUserNotFound):
		return msgUserNotFound
	default:
		return msgPageFailed
	}
}

func seenError(err error) string {
	switch {
	case errors.Is(err, common.ErrTargetRequired):
		return msgSeenTargetRequired
	case errors.Is(err, common.ErrInvalidUserID):
		return msgInvalidTarget
	case errors.Is(err, common.ErrConversationNotFound):
		return msgConversationAbsent
	default:
		return msgSeenFailed
	}
}

func uploadError(err error) string {
	switch {
	case errors.Is(err, common.ErrUnsupportedMedia):
		return msgUnsupportedMedia
	case errors.Is(err, common.ErrMalformedPayload):
		return msgMalformed
	default:
		return msgUploadFailed
	}
}

// isClientError reports whether err is the client's fault and so is not
// worth logging as an error.
func isClientError(err error) bool {
	return errors.Is(err, common.ErrorValidation) || errors.Is(err, common.ErrorNotFound)
}
