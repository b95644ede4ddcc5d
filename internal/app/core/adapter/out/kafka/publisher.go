package kafka

import (
	"context"
	"strconv"
	"time"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-bank-ledger/pkg/kafka"
)

// EventTypeEntryPosted 分錄入帳事件
const EventTypeEntryPosted = "EntryPosted"

// EntryPosted 發佈到 Kafka 的事件內容
type EntryPosted struct {
	Type          string `json:"type"`
	Sequence      uint64 `json:"sequence"`
	EntryID       string `json:"entry_id"`
	AccountID     int64  `json:"account_id"`
	Kind          string `json:"kind"`
	Amount        int64  `json:"amount"`
	BalanceAfter  int64  `json:"balance_after"`
	CorrelationID string `json:"correlation_id"`
	CreatedAt     string `json:"created_at"`
}

// NewEntryPosted 把分錄轉成事件
func NewEntryPosted(e domain.Entry) EntryPosted {
	return EntryPosted{
		Type:          EventTypeEntryPosted,
		Sequence:      e.Sequence,
		EntryID:       e.ID.String(),
		AccountID:     e.AccountID,
		Kind:          e.Kind.String(),
		Amount:        e.Amount,
		BalanceAfter:  e.BalanceAfter,
		CorrelationID: e.CorrelationID.String(),
		CreatedAt:     time.Unix(0, e.CreatedAt).UTC().Format(time.RFC3339Nano),
	}
}

// Publisher 是 usecase.EventPublisher 的 Kafka 實作
type Publisher struct {
	pub *kafka.Publisher
}

func NewPublisher(pub *kafka.Publisher) *Publisher {
	return &Publisher{pub: pub}
}

// PublishEntries 每筆分錄一則訊息，以帳號為 key 讓同一帳戶的事件保持順序
func (p *Publisher) PublishEntries(ctx context.Context, entries []domain.Entry) error {
	msgs := make([]kafka.Message, 0, len(entries))
	for _, e := range entries {
		msgs = append(msgs, kafka.Message{
			Key:   strconv.FormatInt(e.AccountID, 10),
			Value: NewEntryPosted(e),
		})
	}
	return p.pub.Publish(ctx, msgs...)
}

var _ usecase.EventPublisher = (*Publisher)(nil)
