package model

type ReportReason string

const (
	ReportReasonHarassment    ReportReason = "harassment"
	ReportReasonSpam          ReportReason = "spam"
	ReportReasonInappropriate ReportReason = "inappropriate"
	ReportReasonOther         ReportReason = "other"
)

var ValidReportReasons = []string{
	string(ReportReasonHarassment),
	string(ReportReasonSpam),
	string(ReportReasonInappropriate),
	string(ReportReasonOther),
}

type SubmitReportParams struct {
	ReportedDeviceHash string `json:"reported_device_hash"`
	Reason             string `json:"reason"`
}

type ReportAck struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
