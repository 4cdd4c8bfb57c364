package cloud

import (
	"context"
	"errors"

	smithy "github.com/aws/smithy-go"

	"github.com/skylift/skylift/internal/core/fault"
)

// =============================================================================
// Fault Classification
// =============================================================================

// Provider error codes grouped by fault kind. The table is shared by all
// clients; services differ in code names for the same condition.
var (
	notFoundCodes = map[string]bool{
		"ResourceNotFoundException": true, // lambda
		"NotFoundException":         true, // apigateway
		"NoSuchKey":                 true, // s3
		"NoSuchBucket":              true,
	}

	alreadyExistsCodes = map[string]bool{
		"ResourceConflictException": true, // lambda create/permission
		"ConflictException":         true, // apigateway
	}

	transientCodes = map[string]bool{
		"TooManyRequestsException":    true,
		"Throttling":                  true,
		"ThrottlingException":         true,
		"RequestLimitExceeded":        true,
		"ServiceUnavailableException": true,
	}

	permissionCodes = map[string]bool{
		"AccessDeniedException":       true,
		"AccessDenied":                true,
		"UnauthorizedException":       true,
		"UnrecognizedClientException": true,
		"InvalidSignatureException":   true,
		"ExpiredTokenException":       true,
	}

	validationCodes = map[string]bool{
		"ValidationException":            true,
		"ValidationError":                true,
		"BadRequestException":            true,
		"InvalidParameterValueException": true,
		"InvalidRequestContentException": true,
		"LimitExceededException":         true,
	}
)

// classify wraps a provider error as a Fault. NotFound and AlreadyExists
// come back as non-fatal branches; unrecognized codes stay Unknown and
// are surfaced verbatim.
func classify(op, resource string, err error) *fault.Fault {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fault.New(fault.KindUnknown, op, resource, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch {
		case notFoundCodes[code]:
			return fault.New(fault.KindNotFound, op, resource, err)
		case alreadyExistsCodes[code]:
			return fault.New(fault.KindAlreadyExists, op, resource, err)
		case transientCodes[code]:
			return fault.New(fault.KindTransient, op, resource, err)
		case permissionCodes[code]:
			return fault.New(fault.KindPermissionDenied, op, resource, err)
		case validationCodes[code]:
			return fault.New(fault.KindValidation, op, resource, err)
		}
	}

	return fault.New(fault.KindUnknown, op, resource, err)
}
