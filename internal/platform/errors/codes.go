// Package errors provides structured, classified error handling for the escrow engine.
package errors

import (
	"net/http"

	"google.golang.org/grpc/codes"
)

// Code is a machine-readable error code.
type Code string

// Class groups codes by the kind of failure a caller has to react to.
type Class string

const (
	// ClassAuthorization means the caller is not the identity the operation requires.
	ClassAuthorization Class = "AUTHORIZATION"
	// ClassValidation means the request does not fit the current ledger state.
	ClassValidation Class = "VALIDATION"
	// ClassTransfer means an upstream value movement was rejected.
	ClassTransfer Class = "TRANSFER"
	// ClassNotFound means an addressed instance or resource does not exist.
	ClassNotFound Class = "NOT_FOUND"
	// ClassInternal covers everything else.
	ClassInternal Class = "INTERNAL"
)

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Authorization errors
	CodeUnauthenticated Code = "UNAUTHENTICATED"
	CodeNotOwner        Code = "NOT_OWNER"
	CodeNotQuestioner   Code = "NOT_QUESTIONER"

	// Tier and asset errors
	CodeUnsupportedAsset     Code = "UNSUPPORTED_ASSET"
	CodeTierIndexOutOfRange  Code = "TIER_INDEX_OUT_OF_RANGE"
	CodeInvalidTierAmount    Code = "INVALID_TIER_AMOUNT"
	CodeInvalidFeeBps        Code = "INVALID_FEE_BPS"
	CodeInvalidTipAmount     Code = "INVALID_TIP_AMOUNT"
	CodeInvalidConfiguration Code = "INVALID_CONFIGURATION"

	// Question errors
	CodeQuestionIndexOutOfRange Code = "QUESTION_INDEX_OUT_OF_RANGE"
	CodeQuestionNotOpen         Code = "QUESTION_NOT_OPEN"
	CodeQuestionMismatch        Code = "QUESTION_MISMATCH"

	// Module errors
	CodeModuleDisabled  Code = "MODULE_DISABLED"
	CodeModuleUntrusted Code = "MODULE_UNTRUSTED"
	CodeModuleUnknown   Code = "MODULE_UNKNOWN"
	CodeReentrantCall   Code = "REENTRANT_CALL"

	// Transfer errors
	CodePaymentMismatch       Code = "PAYMENT_MISMATCH"
	CodeUnexpectedPayment     Code = "UNEXPECTED_PAYMENT"
	CodeInsufficientBalance   Code = "INSUFFICIENT_BALANCE"
	CodeInsufficientAllowance Code = "INSUFFICIENT_ALLOWANCE"
	CodeReceiverRejected      Code = "RECEIVER_REJECTED"
	CodeUnknownToken          Code = "UNKNOWN_TOKEN"
	CodeSplitMismatch         Code = "SPLIT_MISMATCH"
	CodeAmountOverflow        Code = "AMOUNT_OVERFLOW"

	// Runtime errors
	CodeNotFound       Code = "NOT_FOUND"
	CodeInvalidRequest Code = "INVALID_REQUEST"
)

// Class returns the error class a code belongs to.
func (c Code) Class() Class {
	switch c {
	case CodeUnauthenticated, CodeNotOwner, CodeNotQuestioner:
		return ClassAuthorization

	case CodeUnsupportedAsset,
		CodeTierIndexOutOfRange,
		CodeInvalidTierAmount,
		CodeInvalidFeeBps,
		CodeInvalidTipAmount,
		CodeInvalidConfiguration,
		CodeQuestionIndexOutOfRange,
		CodeQuestionNotOpen,
		CodeQuestionMismatch,
		CodeModuleDisabled,
		CodeModuleUntrusted,
		CodeModuleUnknown,
		CodeReentrantCall,
		CodeInvalidRequest:
		return ClassValidation

	case CodePaymentMismatch,
		CodeUnexpectedPayment,
		CodeInsufficientBalance,
		CodeInsufficientAllowance,
		CodeReceiverRejected,
		CodeUnknownToken,
		CodeSplitMismatch,
		CodeAmountOverflow:
		return ClassTransfer

	case CodeNotFound:
		return ClassNotFound

	default:
		return ClassInternal
	}
}

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// Unauthenticated - no verified caller identity
	case CodeUnauthenticated:
		return codes.Unauthenticated

	// PermissionDenied - caller identity does not match
	case CodeNotOwner, CodeNotQuestioner:
		return codes.PermissionDenied

	// InvalidArgument - bad input regardless of state
	case CodeTierIndexOutOfRange,
		CodeInvalidTierAmount,
		CodeInvalidFeeBps,
		CodeInvalidTipAmount,
		CodeInvalidConfiguration,
		CodeQuestionIndexOutOfRange,
		CodeQuestionMismatch,
		CodePaymentMismatch,
		CodeUnexpectedPayment,
		CodeInvalidRequest:
		return codes.InvalidArgument

	// FailedPrecondition - state doesn't allow operation
	case CodeUnsupportedAsset,
		CodeQuestionNotOpen,
		CodeModuleDisabled,
		CodeModuleUntrusted,
		CodeModuleUnknown,
		CodeInsufficientBalance,
		CodeInsufficientAllowance:
		return codes.FailedPrecondition

	// Aborted - the operation was rolled back mid-flight
	case CodeReentrantCall,
		CodeReceiverRejected,
		CodeSplitMismatch:
		return codes.Aborted

	case CodeAmountOverflow:
		return codes.OutOfRange

	case CodeNotFound, CodeUnknownToken:
		return codes.NotFound

	default:
		return codes.Internal
	}
}

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c.GRPCCode() {
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.InvalidArgument, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.FailedPrecondition:
		return http.StatusPreconditionFailed
	case codes.Aborted:
		return http.StatusConflict
	case codes.NotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
