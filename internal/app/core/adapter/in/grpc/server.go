package grpc

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
)

// LedgerServiceServer ledger.v1.LedgerService 的 server 端介面
type LedgerServiceServer interface {
	OpenAccount(ctx context.Context, req *dynamicpb.Message) (*dynamicpb.Message, error)
	Authenticate(ctx context.Context, req *dynamicpb.Message) (*dynamicpb.Message, error)
	Deposit(ctx context.Context, req *dynamicpb.Message) (*dynamicpb.Message, error)
	Withdraw(ctx context.Context, req *dynamicpb.Message) (*dynamicpb.Message, error)
	Transfer(ctx context.Context, req *dynamicpb.Message) (*dynamicpb.Message, error)
	GetBalance(ctx context.Context, req *dynamicpb.Message) (*dynamicpb.Message, error)
	History(ctx context.Context, req *dynamicpb.Message) (*dynamicpb.Message, error)
	SetAccountStatus(ctx context.Context, req *dynamicpb.Message) (*dynamicpb.Message, error)
	ListAccounts(ctx context.Context, req *dynamicpb.Message) (*dynamicpb.Message, error)
	RegisterAdmin(ctx context.Context, req *dynamicpb.Message) (*dynamicpb.Message, error)
	AuthenticateAdmin(ctx context.Context, req *dynamicpb.Message) (*dynamicpb.Message, error)
	AllEntries(ctx context.Context, req *dynamicpb.Message) (*dynamicpb.Message, error)
}

type handlerFunc func(srv LedgerServiceServer, ctx context.Context, req *dynamicpb.Message) (*dynamicpb.Message, error)

var handlers = map[string]handlerFunc{
	methodOpenAccount:       LedgerServiceServer.OpenAccount,
	methodAuthenticate:      LedgerServiceServer.Authenticate,
	methodDeposit:           LedgerServiceServer.Deposit,
	methodWithdraw:          LedgerServiceServer.Withdraw,
	methodTransfer:          LedgerServiceServer.Transfer,
	methodGetBalance:        LedgerServiceServer.GetBalance,
	methodHistory:           LedgerServiceServer.History,
	methodSetAccountStatus:  LedgerServiceServer.SetAccountStatus,
	methodListAccounts:      LedgerServiceServer.ListAccounts,
	methodRegisterAdmin:     LedgerServiceServer.RegisterAdmin,
	methodAuthenticateAdmin: LedgerServiceServer.AuthenticateAdmin,
	methodAllEntries:        LedgerServiceServer.AllEntries,
}

// serviceDesc 手寫的 grpc.ServiceDesc，request 以 dynamicpb 解碼
var serviceDesc = buildServiceDesc()

func buildServiceDesc() grpc.ServiceDesc {
	desc := grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*LedgerServiceServer)(nil),
		Streams:     []grpc.StreamDesc{},
		Metadata:    protoFile,
	}
	for _, m := range methodSpecs {
		desc.Methods = append(desc.Methods, unaryMethod(m.name, handlers[m.name]))
	}
	return desc
}

func unaryMethod(method string, h handlerFunc) grpc.MethodDesc {
	in, _ := methodIO(method)
	fullMethod := "/" + ServiceName + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			req := dynamicpb.NewMessage(in)
			if err := dec(req); err != nil {
				return nil, err
			}
			s := srv.(LedgerServiceServer)
			if interceptor == nil {
				return h(s, ctx, req)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: fullMethod,
			}
			return interceptor(ctx, req, info, func(ctx context.Context, req any) (any, error) {
				return h(s, ctx, req.(*dynamicpb.Message))
			})
		},
	}
}

// RegisterLedgerServiceServer 把 LedgerService 註冊到 gRPC server
func RegisterLedgerServiceServer(s grpc.ServiceRegistrar, srv LedgerServiceServer) {
	s.RegisterService(&serviceDesc, srv)
}

// GrpcServer 把 gRPC 請求轉成 usecase 呼叫
// 呼叫端身分 (帳戶或管理員) 由外部驗證服務處理，這裡信任請求中的帳戶 ID
type GrpcServer struct {
	core     *usecase.CoreUseCase
	accounts *usecase.AccountUseCase
	admins   *usecase.AdminUseCase
}

func NewGrpcServer(core *usecase.CoreUseCase, accounts *usecase.AccountUseCase, admins *usecase.AdminUseCase) *GrpcServer {
	return &GrpcServer{
		core:     core,
		accounts: accounts,
		admins:   admins,
	}
}

func (s *GrpcServer) OpenAccount(ctx context.Context, req *dynamicpb.Message) (*dynamicpb.Message, error) {
	acc, err := s.accounts.Register(ctx, usecase.RegisterRequest{
		AccountID:      getInt(req, "account_id"),
		Owner:          getString(req, "owner"),
		PIN:            getString(req, "pin"),
		InitialBalance: getInt(req, "initial_balance"),
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return accountResponse(acc), nil
}

func (s *GrpcServer) Authenticate(ctx context.Context, req *dynamicpb.Message) (*dynamicpb.Message, error) {
	acc, err := s.accounts.Authenticate(ctx, getInt(req, "account_id"), getString(req, "pin"))
	if err != nil {
		return nil, toStatus(err)
	}
	return accountResponse(acc), nil
}

func (s *GrpcServer) Deposit(ctx context.Context, req *dynamicpb.Message) (*dynamicpb.Message, error) {
	opts, err := txOptions(req)
	if err != nil {
		return nil, toStatus(err)
	}
	e, err := s.core.Deposit(ctx, getInt(req, "account_id"), getInt(req, "amount"), opts...)
	if err != nil {
		return nil, toStatus(err)
	}
	return entryResponse(e), nil
}

func (s *GrpcServer) Withdraw(ctx context.Context, req *dynamicpb.Message) (*dynamicpb.Message, error) {
	opts, err := txOptions(req)
	if err != nil {
		return nil, toStatus(err)
	}
	e, err := s.core.Withdraw(ctx, getInt(req, "account_id"), getInt(req, "amount"), opts...)
	if err != nil {
		return nil, toStatus(err)
	}
	return entryResponse(e), nil
}

func (s *GrpcServer) Transfer(ctx context.Context, req *dynamicpb.Message) (*dynamicpb.Message, error) {
	opts, err := txOptions(req)
	if err != nil {
		return nil, toStatus(err)
	}
	out, in, err := s.core.Transfer(ctx,
		getInt(req, "from_account_id"),
		getInt(req, "to_account_id"),
		getInt(req, "amount"),
		opts...,
	)
	if err != nil {
		return nil, toStatus(err)
	}
	resp := newMessage("TransferResponse")
	setMessage(resp, "out", entryMessage(out))
	setMessage(resp, "in", entryMessage(in))
	return resp, nil
}

func (s *GrpcServer) GetBalance(ctx context.Context, req *dynamicpb.Message) (*dynamicpb.Message, error) {
	balance, err := s.core.GetAccountBalance(ctx, getInt(req, "account_id"))
	if err != nil {
		return nil, toStatus(err)
	}
	resp := newMessage("GetBalanceResponse")
	setInt(resp, "balance", balance)
	return resp, nil
}

func (s *GrpcServer) History(ctx context.Context, req *dynamicpb.Message) (*dynamicpb.Message, error) {
	entries, next, err := s.core.HistoryPage(ctx,
		getInt(req, "account_id"),
		int(getInt(req, "limit")),
		domain.Cursor(getUint(req, "before")),
	)
	if err != nil {
		return nil, toStatus(err)
	}
	return historyResponse(entries, next), nil
}

// AllEntries 管理員檢視所有帳戶的分錄
func (s *GrpcServer) AllEntries(ctx context.Context, req *dynamicpb.Message) (*dynamicpb.Message, error) {
	entries, next, err := s.core.AllHistoryPage(ctx,
		int(getInt(req, "limit")),
		domain.Cursor(getUint(req, "before")),
	)
	if err != nil {
		return nil, toStatus(err)
	}
	return historyResponse(entries, next), nil
}

func (s *GrpcServer) RegisterAdmin(ctx context.Context, req *dynamicpb.Message) (*dynamicpb.Message, error) {
	admin, err := s.admins.RegisterAdmin(ctx, getString(req, "username"), getString(req, "password"))
	if err != nil {
		return nil, toStatus(err)
	}
	return adminResponse(admin), nil
}

func (s *GrpcServer) AuthenticateAdmin(ctx context.Context, req *dynamicpb.Message) (*dynamicpb.Message, error) {
	admin, err := s.admins.AuthenticateAdmin(ctx, getString(req, "username"), getString(req, "password"))
	if err != nil {
		return nil, toStatus(err)
	}
	return adminResponse(admin), nil
}

func (s *GrpcServer) SetAccountStatus(ctx context.Context, req *dynamicpb.Message) (*dynamicpb.Message, error) {
	raw := getString(req, "status")
	to, ok := domain.ParseAccountStatus(raw)
	if !ok {
		return nil, toStatus(fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, raw))
	}
	acc, err := s.accounts.SetStatus(ctx, getInt(req, "account_id"), to)
	if err != nil {
		return nil, toStatus(err)
	}
	return accountResponse(acc), nil
}

func (s *GrpcServer) ListAccounts(ctx context.Context, _ *dynamicpb.Message) (*dynamicpb.Message, error) {
	accounts, err := s.accounts.ListAccounts(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	resp := newMessage("ListAccountsResponse")
	for _, acc := range accounts {
		appendMessage(resp, "accounts", accountMessage(acc))
	}
	return resp, nil
}

// txOptions transaction_id 空字串時由 core 產生
func txOptions(req protoreflect.Message) ([]usecase.TxOption, error) {
	raw := getString(req, "transaction_id")
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: transaction_id: %v", ErrInvalidRequest, err)
	}
	return []usecase.TxOption{usecase.WithTransactionID(id)}, nil
}

func historyResponse(entries []domain.Entry, next domain.Cursor) *dynamicpb.Message {
	resp := newMessage("HistoryResponse")
	for _, e := range entries {
		appendMessage(resp, "entries", entryMessage(e))
	}
	setUint(resp, "next_cursor", uint64(next))
	return resp
}

func adminResponse(admin domain.Admin) *dynamicpb.Message {
	m := newMessage("Admin")
	setInt(m, "admin_id", admin.ID)
	setString(m, "username", admin.Username)
	setInt(m, "created_at", admin.CreatedAt)
	resp := newMessage("AdminResponse")
	setMessage(resp, "admin", m)
	return resp
}

func accountResponse(acc domain.Account) *dynamicpb.Message {
	resp := newMessage("AccountResponse")
	setMessage(resp, "account", accountMessage(acc))
	return resp
}

func entryResponse(e domain.Entry) *dynamicpb.Message {
	resp := newMessage("EntryResponse")
	setMessage(resp, "entry", entryMessage(e))
	return resp
}

func accountMessage(acc domain.Account) *dynamicpb.Message {
	m := newMessage("Account")
	setInt(m, "account_id", acc.ID)
	setString(m, "owner", acc.Owner)
	setInt(m, "balance", acc.Balance)
	setString(m, "status", acc.Status.String())
	setInt(m, "created_at", acc.CreatedAt)
	setInt(m, "updated_at", acc.UpdatedAt)
	return m
}

func entryMessage(e domain.Entry) *dynamicpb.Message {
	m := newMessage("Entry")
	setUint(m, "sequence", e.Sequence)
	setString(m, "entry_id", e.ID.String())
	setInt(m, "account_id", e.AccountID)
	setString(m, "kind", e.Kind.String())
	setInt(m, "amount", e.Amount)
	setInt(m, "balance_after", e.BalanceAfter)
	setString(m, "correlation_id", e.CorrelationID.String())
	setInt(m, "created_at", e.CreatedAt)
	return m
}

var _ LedgerServiceServer = (*GrpcServer)(nil)
