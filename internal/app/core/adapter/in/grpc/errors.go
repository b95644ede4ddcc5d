package grpc

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

// ErrorDomain 放在 ErrorInfo.Domain，client 依此辨識 ledger 錯誤
const ErrorDomain = "ledger"

// ErrInvalidRequest 請求格式錯誤 (例如 transaction_id 不是 UUID)
var ErrInvalidRequest = errors.New("invalid request")

type errorKind struct {
	err    error
	code   codes.Code
	reason string
}

// 依序比對，越具體的放越前面
var errorKinds = []errorKind{
	{ErrInvalidRequest, codes.InvalidArgument, "INVALID_REQUEST"},
	{domain.ErrInvalidAmount, codes.InvalidArgument, "INVALID_AMOUNT"},
	{domain.ErrSameAccount, codes.InvalidArgument, "SAME_ACCOUNT"},
	{domain.ErrInvalidOwner, codes.InvalidArgument, "INVALID_OWNER"},
	{domain.ErrInvalidPIN, codes.InvalidArgument, "INVALID_PIN"},
	{domain.ErrInvalidUsername, codes.InvalidArgument, "INVALID_USERNAME"},
	{domain.ErrInvalidPassword, codes.InvalidArgument, "INVALID_PASSWORD"},
	{domain.ErrAccountNotFound, codes.NotFound, "ACCOUNT_NOT_FOUND"},
	{domain.ErrAdminNotFound, codes.NotFound, "ADMIN_NOT_FOUND"},
	{domain.ErrAccountAlreadyExists, codes.AlreadyExists, "ACCOUNT_ALREADY_EXISTS"},
	{domain.ErrAdminAlreadyExists, codes.AlreadyExists, "ADMIN_ALREADY_EXISTS"},
	{domain.ErrTransactionConflict, codes.FailedPrecondition, "TRANSACTION_CONFLICT"},
	{domain.ErrInvalidCredentials, codes.Unauthenticated, "INVALID_CREDENTIALS"},
	{domain.ErrAccountInactive, codes.FailedPrecondition, "ACCOUNT_INACTIVE"},
	{domain.ErrInsufficientFunds, codes.FailedPrecondition, "INSUFFICIENT_FUNDS"},
	{domain.ErrAccountNotEmpty, codes.FailedPrecondition, "ACCOUNT_NOT_EMPTY"},
	{domain.ErrInvalidStatusTransition, codes.FailedPrecondition, "INVALID_STATUS_TRANSITION"},
	{domain.ErrLockTimeout, codes.Unavailable, "LOCK_TIMEOUT"},
	{domain.ErrStorageFailure, codes.Internal, "STORAGE_FAILURE"},
}

// toStatus 將 domain 錯誤轉成 gRPC status，並附上 ErrorInfo
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range errorKinds {
		if !errors.Is(err, k.err) {
			continue
		}
		msg := err.Error()
		if k.code == codes.Internal {
			// 不把底層儲存細節回給呼叫端
			msg = k.err.Error()
		}
		return withReason(status.New(k.code, msg), k.reason)
	}
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return withReason(status.New(codes.Internal, "internal error"), "INTERNAL")
}

func withReason(st *status.Status, reason string) error {
	detailed, err := st.WithDetails(&errdetails.ErrorInfo{
		Reason: reason,
		Domain: ErrorDomain,
	})
	if err != nil {
		return st.Err()
	}
	return detailed.Err()
}

// FromStatus 把 server 回傳的 status 還原成 domain sentinel，讓呼叫端可以用 errors.Is
// 無法辨識的錯誤原樣回傳
func FromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok || st.Code() == codes.OK {
		return err
	}
	for _, d := range st.Details() {
		info, ok := d.(*errdetails.ErrorInfo)
		if !ok || info.GetDomain() != ErrorDomain {
			continue
		}
		for _, k := range errorKinds {
			if k.reason == info.GetReason() {
				return &RemoteError{Status: st, err: k.err}
			}
		}
	}
	return err
}

// RemoteError 保留原始 status，同時 Unwrap 出 domain sentinel
type RemoteError struct {
	Status *status.Status
	err    error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("rpc error: code = %s desc = %s", e.Status.Code(), e.Status.Message())
}

func (e *RemoteError) Unwrap() error {
	return e.err
}

// GRPCStatus 讓 status.FromError / status.Code 仍然可用
func (e *RemoteError) GRPCStatus() *status.Status {
	return e.Status
}
