package grpc

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

// ledger/v1/ledger.proto 在啟動時由 descriptor 建立，不依賴 protoc 產生的程式碼
const (
	protoFile    = "ledger/v1/ledger.proto"
	protoPackage = "ledger.v1"

	// ServiceName gRPC 服務全名
	ServiceName = protoPackage + ".LedgerService"
)

type fieldSpec struct {
	name     string
	number   int32
	kind     descriptorpb.FieldDescriptorProto_Type
	typeName string
	repeated bool
}

func scalar(name string, number int32, kind descriptorpb.FieldDescriptorProto_Type) fieldSpec {
	return fieldSpec{name: name, number: number, kind: kind}
}

func nested(name string, number int32, typeName string) fieldSpec {
	return fieldSpec{name: name, number: number, kind: descriptorpb.FieldDescriptorProto_TYPE_MESSAGE, typeName: typeName}
}

func repeated(name string, number int32, typeName string) fieldSpec {
	f := nested(name, number, typeName)
	f.repeated = true
	return f
}

const (
	typeInt32  = descriptorpb.FieldDescriptorProto_TYPE_INT32
	typeInt64  = descriptorpb.FieldDescriptorProto_TYPE_INT64
	typeUint64 = descriptorpb.FieldDescriptorProto_TYPE_UINT64
	typeString = descriptorpb.FieldDescriptorProto_TYPE_STRING
)

var messageSpecs = []struct {
	name   string
	fields []fieldSpec
}{
	{"Account", []fieldSpec{
		scalar("account_id", 1, typeInt64),
		scalar("owner", 2, typeString),
		scalar("balance", 3, typeInt64),
		scalar("status", 4, typeString),
		scalar("created_at", 5, typeInt64),
		scalar("updated_at", 6, typeInt64),
	}},
	{"Entry", []fieldSpec{
		scalar("sequence", 1, typeUint64),
		scalar("entry_id", 2, typeString),
		scalar("account_id", 3, typeInt64),
		scalar("kind", 4, typeString),
		scalar("amount", 5, typeInt64),
		scalar("balance_after", 6, typeInt64),
		scalar("correlation_id", 7, typeString),
		scalar("created_at", 8, typeInt64),
	}},
	{"OpenAccountRequest", []fieldSpec{
		scalar("account_id", 1, typeInt64),
		scalar("owner", 2, typeString),
		scalar("pin", 3, typeString),
		scalar("initial_balance", 4, typeInt64),
	}},
	{"AuthenticateRequest", []fieldSpec{
		scalar("account_id", 1, typeInt64),
		scalar("pin", 2, typeString),
	}},
	{"AccountResponse", []fieldSpec{
		nested("account", 1, "Account"),
	}},
	{"DepositRequest", []fieldSpec{
		scalar("account_id", 1, typeInt64),
		scalar("amount", 2, typeInt64),
		scalar("transaction_id", 3, typeString),
	}},
	{"WithdrawRequest", []fieldSpec{
		scalar("account_id", 1, typeInt64),
		scalar("amount", 2, typeInt64),
		scalar("transaction_id", 3, typeString),
	}},
	{"EntryResponse", []fieldSpec{
		nested("entry", 1, "Entry"),
	}},
	{"TransferRequest", []fieldSpec{
		scalar("from_account_id", 1, typeInt64),
		scalar("to_account_id", 2, typeInt64),
		scalar("amount", 3, typeInt64),
		scalar("transaction_id", 4, typeString),
	}},
	{"TransferResponse", []fieldSpec{
		nested("out", 1, "Entry"),
		nested("in", 2, "Entry"),
	}},
	{"GetBalanceRequest", []fieldSpec{
		scalar("account_id", 1, typeInt64),
	}},
	{"GetBalanceResponse", []fieldSpec{
		scalar("balance", 1, typeInt64),
	}},
	{"HistoryRequest", []fieldSpec{
		scalar("account_id", 1, typeInt64),
		scalar("limit", 2, typeInt32),
		scalar("before", 3, typeUint64),
	}},
	{"HistoryResponse", []fieldSpec{
		repeated("entries", 1, "Entry"),
		scalar("next_cursor", 2, typeUint64),
	}},
	{"SetAccountStatusRequest", []fieldSpec{
		scalar("account_id", 1, typeInt64),
		scalar("status", 2, typeString),
	}},
	{"ListAccountsRequest", nil},
	{"ListAccountsResponse", []fieldSpec{
		repeated("accounts", 1, "Account"),
	}},
	{"Admin", []fieldSpec{
		scalar("admin_id", 1, typeInt64),
		scalar("username", 2, typeString),
		scalar("created_at", 3, typeInt64),
	}},
	{"AdminCredentials", []fieldSpec{
		scalar("username", 1, typeString),
		scalar("password", 2, typeString),
	}},
	{"AdminResponse", []fieldSpec{
		nested("admin", 1, "Admin"),
	}},
	{"AllEntriesRequest", []fieldSpec{
		scalar("limit", 1, typeInt32),
		scalar("before", 2, typeUint64),
	}},
}

const (
	methodOpenAccount       = "OpenAccount"
	methodAuthenticate      = "Authenticate"
	methodDeposit           = "Deposit"
	methodWithdraw          = "Withdraw"
	methodTransfer          = "Transfer"
	methodGetBalance        = "GetBalance"
	methodHistory           = "History"
	methodSetAccountStatus  = "SetAccountStatus"
	methodListAccounts      = "ListAccounts"
	methodRegisterAdmin     = "RegisterAdmin"
	methodAuthenticateAdmin = "AuthenticateAdmin"
	methodAllEntries        = "AllEntries"
)

var methodSpecs = []struct {
	name, input, output string
}{
	{methodOpenAccount, "OpenAccountRequest", "AccountResponse"},
	{methodAuthenticate, "AuthenticateRequest", "AccountResponse"},
	{methodDeposit, "DepositRequest", "EntryResponse"},
	{methodWithdraw, "WithdrawRequest", "EntryResponse"},
	{methodTransfer, "TransferRequest", "TransferResponse"},
	{methodGetBalance, "GetBalanceRequest", "GetBalanceResponse"},
	{methodHistory, "HistoryRequest", "HistoryResponse"},
	{methodSetAccountStatus, "SetAccountStatusRequest", "AccountResponse"},
	{methodListAccounts, "ListAccountsRequest", "ListAccountsResponse"},
	{methodRegisterAdmin, "AdminCredentials", "AdminResponse"},
	{methodAuthenticateAdmin, "AdminCredentials", "AdminResponse"},
	{methodAllEntries, "AllEntriesRequest", "HistoryResponse"},
}

var ledgerFile = mustBuildFile()

func mustBuildFile() protoreflect.FileDescriptor {
	fd, err := buildFile()
	if err != nil {
		panic(fmt.Sprintf("ledger schema: %v", err))
	}
	// 註冊後 gRPC reflection 才查得到
	if err := protoregistry.GlobalFiles.RegisterFile(fd); err != nil {
		panic(fmt.Sprintf("ledger schema: register: %v", err))
	}
	return fd
}

func buildFile() (protoreflect.FileDescriptor, error) {
	fdp := &descriptorpb.FileDescriptorProto{
		Name:    proto.String(protoFile),
		Package: proto.String(protoPackage),
		Syntax:  proto.String("proto3"),
	}
	for _, m := range messageSpecs {
		dp := &descriptorpb.DescriptorProto{Name: proto.String(m.name)}
		for _, f := range m.fields {
			label := descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL
			if f.repeated {
				label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED
			}
			fp := &descriptorpb.FieldDescriptorProto{
				Name:   proto.String(f.name),
				Number: proto.Int32(f.number),
				Label:  label.Enum(),
				Type:   f.kind.Enum(),
			}
			if f.typeName != "" {
				fp.TypeName = proto.String(qualified(f.typeName))
			}
			dp.Field = append(dp.Field, fp)
		}
		fdp.MessageType = append(fdp.MessageType, dp)
	}

	svc := &descriptorpb.ServiceDescriptorProto{Name: proto.String("LedgerService")}
	for _, m := range methodSpecs {
		svc.Method = append(svc.Method, &descriptorpb.MethodDescriptorProto{
			Name:       proto.String(m.name),
			InputType:  proto.String(qualified(m.input)),
			OutputType: proto.String(qualified(m.output)),
		})
	}
	fdp.Service = []*descriptorpb.ServiceDescriptorProto{svc}

	return protodesc.NewFile(fdp, new(protoregistry.Files))
}

func qualified(name string) string {
	return "." + protoPackage + "." + name
}

// methodIO 回傳方法的 request / response 型別
func methodIO(method string) (in, out protoreflect.MessageDescriptor) {
	md := ledgerFile.Services().ByName("LedgerService").Methods().ByName(protoreflect.Name(method))
	if md == nil {
		panic("ledger schema: unknown method " + method)
	}
	return md.Input(), md.Output()
}

func newMessage(name string) *dynamicpb.Message {
	md := ledgerFile.Messages().ByName(protoreflect.Name(name))
	if md == nil {
		panic("ledger schema: unknown message " + name)
	}
	return dynamicpb.NewMessage(md)
}

func fieldOf(m protoreflect.Message, name string) protoreflect.FieldDescriptor {
	fd := m.Descriptor().Fields().ByName(protoreflect.Name(name))
	if fd == nil {
		panic(fmt.Sprintf("ledger schema: %s has no field %s", m.Descriptor().FullName(), name))
	}
	return fd
}

func getInt(m protoreflect.Message, name string) int64 {
	return m.Get(fieldOf(m, name)).Int()
}

func getUint(m protoreflect.Message, name string) uint64 {
	return m.Get(fieldOf(m, name)).Uint()
}

func getString(m protoreflect.Message, name string) string {
	return m.Get(fieldOf(m, name)).String()
}

func getMessage(m protoreflect.Message, name string) protoreflect.Message {
	return m.Get(fieldOf(m, name)).Message()
}

func getList(m protoreflect.Message, name string) protoreflect.List {
	return m.Get(fieldOf(m, name)).List()
}

func setInt(m protoreflect.Message, name string, v int64) {
	m.Set(fieldOf(m, name), protoreflect.ValueOfInt64(v))
}

func setInt32(m protoreflect.Message, name string, v int32) {
	m.Set(fieldOf(m, name), protoreflect.ValueOfInt32(v))
}

func setUint(m protoreflect.Message, name string, v uint64) {
	m.Set(fieldOf(m, name), protoreflect.ValueOfUint64(v))
}

func setString(m protoreflect.Message, name string, v string) {
	m.Set(fieldOf(m, name), protoreflect.ValueOfString(v))
}

func setMessage(m protoreflect.Message, name string, v protoreflect.Message) {
	m.Set(fieldOf(m, name), protoreflect.ValueOfMessage(v))
}

func appendMessage(m protoreflect.Message, name string, v protoreflect.Message) {
	m.Mutable(fieldOf(m, name)).List().Append(protoreflect.ValueOfMessage(v))
}
