package grpc

import (
	"context"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
)

// Client 是 LedgerService 的 typed client
// 回傳的錯誤可以用 errors.Is 比對 domain sentinel
type Client struct {
	conn grpc.ClientConnInterface
}

func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func (c *Client) invoke(ctx context.Context, method string, req *dynamicpb.Message) (*dynamicpb.Message, error) {
	_, out := methodIO(method)
	resp := dynamicpb.NewMessage(out)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, req, resp); err != nil {
		return nil, FromStatus(err)
	}
	return resp, nil
}

func (c *Client) OpenAccount(ctx context.Context, r usecase.RegisterRequest) (domain.Account, error) {
	req := newMessage("OpenAccountRequest")
	setInt(req, "account_id", r.AccountID)
	setString(req, "owner", r.Owner)
	setString(req, "pin", r.PIN)
	setInt(req, "initial_balance", r.InitialBalance)
	return c.accountCall(ctx, methodOpenAccount, req)
}

func (c *Client) Authenticate(ctx context.Context, accountID int64, pin string) (domain.Account, error) {
	req := newMessage("AuthenticateRequest")
	setInt(req, "account_id", accountID)
	setString(req, "pin", pin)
	return c.accountCall(ctx, methodAuthenticate, req)
}

// Deposit transactionID 為 uuid.Nil 時由 server 產生
func (c *Client) Deposit(ctx context.Context, accountID, amount int64, transactionID uuid.UUID) (domain.Entry, error) {
	return c.entryCall(ctx, methodDeposit, "DepositRequest", accountID, amount, transactionID)
}

func (c *Client) Withdraw(ctx context.Context, accountID, amount int64, transactionID uuid.UUID) (domain.Entry, error) {
	return c.entryCall(ctx, methodWithdraw, "WithdrawRequest", accountID, amount, transactionID)
}

func (c *Client) Transfer(ctx context.Context, fromID, toID, amount int64, transactionID uuid.UUID) (out, in domain.Entry, err error) {
	req := newMessage("TransferRequest")
	setInt(req, "from_account_id", fromID)
	setInt(req, "to_account_id", toID)
	setInt(req, "amount", amount)
	setTransactionID(req, transactionID)

	resp, err := c.invoke(ctx, methodTransfer, req)
	if err != nil {
		return domain.Entry{}, domain.Entry{}, err
	}
	return entryFromMessage(getMessage(resp, "out")), entryFromMessage(getMessage(resp, "in")), nil
}

func (c *Client) GetBalance(ctx context.Context, accountID int64) (int64, error) {
	req := newMessage("GetBalanceRequest")
	setInt(req, "account_id", accountID)
	resp, err := c.invoke(ctx, methodGetBalance, req)
	if err != nil {
		return 0, err
	}
	return getInt(resp, "balance"), nil
}

// History 取得一頁分錄，next 為 0 代表沒有下一頁
func (c *Client) History(ctx context.Context, accountID int64, limit int32, before domain.Cursor) (entries []domain.Entry, next domain.Cursor, err error) {
	req := newMessage("HistoryRequest")
	setInt(req, "account_id", accountID)
	setInt32(req, "limit", limit)
	setUint(req, "before", uint64(before))

	return c.historyCall(ctx, methodHistory, req)
}

// AllEntries 取得所有帳戶的一頁分錄 (管理員檢視)
func (c *Client) AllEntries(ctx context.Context, limit int32, before domain.Cursor) (entries []domain.Entry, next domain.Cursor, err error) {
	req := newMessage("AllEntriesRequest")
	setInt32(req, "limit", limit)
	setUint(req, "before", uint64(before))
	return c.historyCall(ctx, methodAllEntries, req)
}

func (c *Client) RegisterAdmin(ctx context.Context, username, password string) (domain.Admin, error) {
	return c.adminCall(ctx, methodRegisterAdmin, username, password)
}

func (c *Client) AuthenticateAdmin(ctx context.Context, username, password string) (domain.Admin, error) {
	return c.adminCall(ctx, methodAuthenticateAdmin, username, password)
}

func (c *Client) SetAccountStatus(ctx context.Context, accountID int64, status domain.AccountStatus) (domain.Account, error) {
	req := newMessage("SetAccountStatusRequest")
	setInt(req, "account_id", accountID)
	setString(req, "status", status.String())
	return c.accountCall(ctx, methodSetAccountStatus, req)
}

func (c *Client) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	resp, err := c.invoke(ctx, methodListAccounts, newMessage("ListAccountsRequest"))
	if err != nil {
		return nil, err
	}
	list := getList(resp, "accounts")
	accounts := make([]domain.Account, 0, list.Len())
	for i := 0; i < list.Len(); i++ {
		accounts = append(accounts, accountFromMessage(list.Get(i).Message()))
	}
	return accounts, nil
}

func (c *Client) historyCall(ctx context.Context, method string, req *dynamicpb.Message) ([]domain.Entry, domain.Cursor, error) {
	resp, err := c.invoke(ctx, method, req)
	if err != nil {
		return nil, 0, err
	}
	list := getList(resp, "entries")
	entries := make([]domain.Entry, 0, list.Len())
	for i := 0; i < list.Len(); i++ {
		entries = append(entries, entryFromMessage(list.Get(i).Message()))
	}
	return entries, domain.Cursor(getUint(resp, "next_cursor")), nil
}

func (c *Client) adminCall(ctx context.Context, method, username, password string) (domain.Admin, error) {
	req := newMessage("AdminCredentials")
	setString(req, "username", username)
	setString(req, "password", password)

	resp, err := c.invoke(ctx, method, req)
	if err != nil {
		return domain.Admin{}, err
	}
	m := getMessage(resp, "admin")
	return domain.Admin{
		ID:        getInt(m, "admin_id"),
		Username:  getString(m, "username"),
		CreatedAt: getInt(m, "created_at"),
	}, nil
}

func (c *Client) accountCall(ctx context.Context, method string, req *dynamicpb.Message) (domain.Account, error) {
	resp, err := c.invoke(ctx, method, req)
	if err != nil {
		return domain.Account{}, err
	}
	return accountFromMessage(getMessage(resp, "account")), nil
}

func (c *Client) entryCall(ctx context.Context, method, reqName string, accountID, amount int64, transactionID uuid.UUID) (domain.Entry, error) {
	req := newMessage(reqName)
	setInt(req, "account_id", accountID)
	setInt(req, "amount", amount)
	setTransactionID(req, transactionID)

	resp, err := c.invoke(ctx, method, req)
	if err != nil {
		return domain.Entry{}, err
	}
	return entryFromMessage(getMessage(resp, "entry")), nil
}

func setTransactionID(req protoreflect.Message, id uuid.UUID) {
	if id != uuid.Nil {
		setString(req, "transaction_id", id.String())
	}
}

func accountFromMessage(m protoreflect.Message) domain.Account {
	status, _ := domain.ParseAccountStatus(getString(m, "status"))
	return domain.Account{
		ID:        getInt(m, "account_id"),
		Owner:     getString(m, "owner"),
		Balance:   getInt(m, "balance"),
		Status:    status,
		CreatedAt: getInt(m, "created_at"),
		UpdatedAt: getInt(m, "updated_at"),
	}
}

func entryFromMessage(m protoreflect.Message) domain.Entry {
	return domain.Entry{
		Sequence:      getUint(m, "sequence"),
		ID:            parseUUID(getString(m, "entry_id")),
		AccountID:     getInt(m, "account_id"),
		Kind:          parseEntryKind(getString(m, "kind")),
		Amount:        getInt(m, "amount"),
		BalanceAfter:  getInt(m, "balance_after"),
		CorrelationID: parseUUID(getString(m, "correlation_id")),
		CreatedAt:     getInt(m, "created_at"),
	}
}

func parseUUID(s string) uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil
	}
	return id
}

func parseEntryKind(s string) domain.EntryKind {
	for _, k := range []domain.EntryKind{
		domain.EntryKindDeposit,
		domain.EntryKindWithdrawal,
		domain.EntryKindTransferOut,
		domain.EntryKindTransferIn,
	} {
		if k.String() == s {
			return k
		}
	}
	return 0
}
