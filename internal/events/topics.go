package events

// Topic constants for domain events emitted by the configurator.
const (
	TopicQuotationSaved     = "quotation.saved"
	TopicDesignUploaded     = "quotation.design_uploaded"
	TopicDesignUploadFailed = "quotation.design_upload_failed"
)

// DefaultTopics returns the canonical list of topics.
func DefaultTopics() []string {
	return []string{
		TopicQuotationSaved,
		TopicDesignUploaded,
		TopicDesignUploadFailed,
	}
}
