package errors

import (
	"github.com/pingcap/errors"
)

// errors
var (
	// configuration related errors
	ErrConfigNotFound = errors.Normalize(
		"configuration file not found: %s",
		errors.RFCCodeText("CDCFlow:ErrConfigNotFound"),
	)
	ErrMissingBaseURL = errors.Normalize(
		"NIFI_API_BASE_URL is not set",
		errors.RFCCodeText("CDCFlow:ErrMissingBaseURL"),
	)
	ErrInvalidConfig = errors.Normalize(
		"invalid configuration: %s",
		errors.RFCCodeText("CDCFlow:ErrInvalidConfig"),
	)

	// nifi api related errors
	ErrRemoteRequestFailed = errors.Normalize(
		"nifi request failed, %s %s: status %d, body %s",
		errors.RFCCodeText("CDCFlow:ErrRemoteRequestFailed"),
	)
	ErrAuthenticationDeclined = errors.Normalize(
		"nifi declined the login request: status %d",
		errors.RFCCodeText("CDCFlow:ErrAuthenticationDeclined"),
	)
	ErrInvalidArgument = errors.Normalize(
		"invalid argument: %s",
		errors.RFCCodeText("CDCFlow:ErrInvalidArgument"),
	)
	ErrDecodeResponse = errors.Normalize(
		"cannot decode nifi response from %s: %s",
		errors.RFCCodeText("CDCFlow:ErrDecodeResponse"),
	)
	ErrServiceNotReady = errors.Normalize(
		"controller service %s did not reach state %s, last state %s",
		errors.RFCCodeText("CDCFlow:ErrServiceNotReady"),
	)

	// ledger related errors
	ErrLedgerWrite = errors.Normalize(
		"write flow record for mapping %s",
		errors.RFCCodeText("CDCFlow:ErrLedgerWrite"),
	)
)
