package platform

// ComparisonJob asks to compare the artifact of the dst message against the
// artifact of the src message. The processed flags tell whether a side was
// already published by an earlier cycle.
type ComparisonJob struct {
	ID           string `json:"jobId"`
	SrcBatch     string `json:"srcBatchId"`
	SrcMessage   string `json:"srcMessageId"`
	DstBatch     string `json:"dstBatchId"`
	DstMessage   string `json:"dstMessageId"`
	SrcProcessed bool   `json:"srcProcessed"`
	DstProcessed bool   `json:"dstProcessed"`
}

type handshakeReply struct {
	Ready *bool `json:"ready,omitempty"`
}
