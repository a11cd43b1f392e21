package manager

import "fmt"

// 进度与失败消息
const (
	msgStarted        = "Generation started"
	msgConverting     = "Converting to USD..."
	msgConversionDone = "USD conversion completed"

	reasonNoModel = "no model data received"
	reasonUnknown = "Unknown error"
)

func msgStatus(status string) string { return "Status: " + status }

func msgFailed(reason string) string { return "Failed: " + reason }

func msgConversionFailed(reason string) string { return "USD conversion failed: " + reason }

func msgConvertingPercent(fraction float64) string {
	return fmt.Sprintf("%s %d%%", msgConverting, int(fraction*100))
}

func reasonStatusCheck(err error) string { return "Status check failed: " + err.Error() }

func reasonPayload(err error) string { return "failed to process model payload: " + err.Error() }
