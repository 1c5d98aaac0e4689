package neorpc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"

	"EddyMixer/internal/neotx"

	"github.com/gorilla/websocket"
)

// WSClient subscribes to NEP-17 Transfer notifications on a node's
// websocket endpoint. Polling stays the source of truth; the subscription
// only shortens detection latency.
type WSClient struct {
	Endpoint string
	Conn     *websocket.Conn
}

func NewWSClient(endpoint string) *WSClient {
	return &WSClient{Endpoint: endpoint}
}

func (c *WSClient) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{}
	conn, _, err := dialer.DialContext(ctx, c.Endpoint, nil)
	if err != nil {
		return err
	}
	c.Conn = conn
	return nil
}

func (c *WSClient) Close() {
	if c.Conn != nil {
		_ = c.Conn.Close()
	}
}

// SubscribeTransfers asks for every contract notification named "Transfer".
func (c *WSClient) SubscribeTransfers(ctx context.Context) error {
	payload := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "subscribe",
		"params":  []any{"notification_from_execution", map[string]any{"name": "Transfer"}},
	}
	return c.Conn.WriteJSON(payload)
}

func (c *WSClient) Read(ctx context.Context) ([]byte, error) {
	_, msg, err := c.Conn.ReadMessage()
	return msg, err
}

// TransferEvent is one NEP-17 Transfer notification.
type TransferEvent struct {
	Contract    string
	TxID        string
	FromAddress string
	ToAddress   string
	Amount      *big.Int
}

// ParseTransferEvent decodes a websocket message into a TransferEvent.
// Subscription acks and other streams answer (nil, false, nil).
func ParseTransferEvent(msg []byte) (*TransferEvent, bool, error) {
	var env struct {
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
		Error  *rpcError         `json:"error"`
	}
	if err := json.Unmarshal(msg, &env); err != nil {
		return nil, false, err
	}
	if env.Error != nil {
		return nil, false, errors.New(env.Error.Message)
	}
	if env.Method != "notification_from_execution" || len(env.Params) == 0 {
		return nil, false, nil
	}

	var payload struct {
		Container string    `json:"container"`
		Contract  string    `json:"contract"`
		EventName string    `json:"eventname"`
		State     StackItem `json:"state"`
	}
	if err := json.Unmarshal(env.Params[0], &payload); err != nil {
		return nil, false, err
	}
	if payload.EventName != "Transfer" || payload.State.Type != "Array" {
		return nil, false, nil
	}

	var args []StackItem
	if err := json.Unmarshal(payload.State.Value, &args); err != nil {
		return nil, false, err
	}
	if len(args) != 3 {
		return nil, false, nil
	}

	from, _ := stackAddress(args[0])
	to, ok := stackAddress(args[1])
	if !ok {
		return nil, false, nil
	}
	amount, err := stackInt(args[2:])
	if err != nil {
		return nil, false, nil
	}

	return &TransferEvent{
		Contract:    payload.Contract,
		TxID:        payload.Container,
		FromAddress: from,
		ToAddress:   to,
		Amount:      amount,
	}, true, nil
}

// stackAddress decodes a ByteString stack item holding a script hash.
// Mints and burns carry a null side, which answers ("", false).
func stackAddress(item StackItem) (string, bool) {
	if item.Type != "ByteString" {
		return "", false
	}
	var b64 string
	if err := json.Unmarshal(item.Value, &b64); err != nil {
		return "", false
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil || len(raw) != 20 {
		return "", false
	}
	var u neotx.Uint160
	copy(u[:], raw)
	return u.Address(), true
}
