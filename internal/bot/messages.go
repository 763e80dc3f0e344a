package bot

// =============================================================================
// General messages
// =============================================================================

const (
	MsgUnexpectedErr = `Unexpected error: %s`
	MsgHelp          = `
		Send one or more photos of a product, then:

		/generate [hint] - create a listing draft from the photos
		/publish - publish the last draft
		/clear - forget the photos and the draft`
	MsgUnknownCommand = "Unknown command. Send /help to see what I can do."
	MsgCleared        = "Photos and draft cleared."
)

// =============================================================================
// Photo messages
// =============================================================================

const (
	MsgPhotoReceived       = "Photo %d received. Send /generate when you have added all photos."
	MsgPhotoLimit          = "You can add at most %d photos. Send /generate or /clear."
	MsgPhotoDownloadFailed = "Could not download the photo, please send it again."
	MsgNoPhotos            = "Send at least one photo first."
)

// =============================================================================
// Generation messages
// =============================================================================

const (
	MsgGenerating        = "Generating the listing from %s, this takes a minute..."
	MsgGenerateFailed    = "Could not generate the listing (%s): %s"
	MsgGenerateCancelled = "Generation was cancelled."
	MsgDraft             = `
		*%s*
		Price: %s %s
		Category: %s

		%s

		Keywords: %s

		%s`
	MsgDraftGaps           = "Generated with gaps: %s"
	MsgDraftInvalid        = "Not ready to publish: %s"
	MsgDraftReady          = "Send /publish to publish it."
	MsgDraftReadyNoPublish = "Publishing is not configured, the draft is only kept here."
)

// =============================================================================
// Publishing messages
// =============================================================================

const (
	MsgNoDraft          = "There is no draft to publish. Send photos and /generate first."
	MsgPublished        = "✅ Listing published (id %s)."
	MsgPublishFailed    = "Publishing failed: %s"
	MsgPublishInvalid   = "The draft cannot be published: %s"
	MsgPublishCancelled = "Publishing was cancelled."
)
