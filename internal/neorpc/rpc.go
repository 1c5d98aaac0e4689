// Package neorpc talks to Neo N3 nodes over JSON-RPC and implements the
// ledger interfaces on top of a rotating endpoint set.
package neorpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int    `json:"id"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// rpcClient is a single-endpoint JSON-RPC client. Endpoint selection and
// failure accounting live in Client.
type rpcClient struct {
	baseURL    string
	httpClient *http.Client
}

func newRPCClient(baseURL string, timeout time.Duration) *rpcClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &rpcClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// call posts one JSON-RPC request. A *rpcError return means the node
// answered; any other error is a transport failure.
func (c *rpcClient) call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	if params == nil {
		params = []any{}
	}
	req := rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("http status %d", resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}

// InvokeResult is the outcome of invokefunction/invokescript test runs.
type InvokeResult struct {
	Script      string      `json:"script"`
	State       string      `json:"state"`
	GasConsumed string      `json:"gasconsumed"`
	Exception   string      `json:"exception,omitempty"`
	Stack       []StackItem `json:"stack"`
}

// StackItem is a Neo VM stack item.
type StackItem struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// InvokeSigner is the signer descriptor invoke calls accept.
type InvokeSigner struct {
	Account string `json:"account"`
	Scopes  string `json:"scopes"`
}

// Nep17Transfers is the getnep17transfers answer.
type Nep17Transfers struct {
	Address  string          `json:"address"`
	Sent     []Nep17Transfer `json:"sent"`
	Received []Nep17Transfer `json:"received"`
}

type Nep17Transfer struct {
	Timestamp       int64  `json:"timestamp"`
	AssetHash       string `json:"assethash"`
	TransferAddress string `json:"transferaddress"`
	Amount          string `json:"amount"`
	BlockIndex      int64  `json:"blockindex"`
	TxHash          string `json:"txhash"`
}

// ApplicationLog is the per-transaction execution record.
type ApplicationLog struct {
	TxID       string      `json:"txid"`
	Executions []Execution `json:"executions"`
}

type Execution struct {
	Trigger       string         `json:"trigger"`
	VMState       string         `json:"vmstate"`
	GasConsumed   string         `json:"gasconsumed"`
	Exception     string         `json:"exception,omitempty"`
	Stack         []StackItem    `json:"stack"`
	Notifications []Notification `json:"notifications"`
}

type Notification struct {
	Contract  string    `json:"contract"`
	EventName string    `json:"eventname"`
	State     StackItem `json:"state"`
}

func (c *rpcClient) getBlockCount(ctx context.Context) (uint32, error) {
	result, err := c.call(ctx, "getblockcount")
	if err != nil {
		return 0, err
	}
	var count uint32
	if err := json.Unmarshal(result, &count); err != nil {
		return 0, fmt.Errorf("unmarshal block count: %w", err)
	}
	return count, nil
}

func (c *rpcClient) invokeFunction(ctx context.Context, scriptHash, operation string, params []any) (*InvokeResult, error) {
	if params == nil {
		params = []any{}
	}
	result, err := c.call(ctx, "invokefunction", scriptHash, operation, params)
	if err != nil {
		return nil, err
	}
	var out InvokeResult
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, fmt.Errorf("unmarshal invoke result: %w", err)
	}
	return &out, nil
}

func (c *rpcClient) invokeScript(ctx context.Context, scriptB64 string, signers []InvokeSigner) (*InvokeResult, error) {
	result, err := c.call(ctx, "invokescript", scriptB64, signers)
	if err != nil {
		return nil, err
	}
	var out InvokeResult
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, fmt.Errorf("unmarshal invoke result: %w", err)
	}
	return &out, nil
}

func (c *rpcClient) calculateNetworkFee(ctx context.Context, txB64 string) (int64, error) {
	result, err := c.call(ctx, "calculatenetworkfee", txB64)
	if err != nil {
		return 0, err
	}
	var out struct {
		NetworkFee string `json:"networkfee"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return 0, fmt.Errorf("unmarshal network fee: %w", err)
	}
	return parseInt64(out.NetworkFee)
}

func (c *rpcClient) sendRawTransaction(ctx context.Context, txB64 string) (string, error) {
	result, err := c.call(ctx, "sendrawtransaction", txB64)
	if err != nil {
		return "", err
	}
	var out struct {
		Hash string `json:"hash"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return "", fmt.Errorf("unmarshal send result: %w", err)
	}
	return out.Hash, nil
}

func (c *rpcClient) getApplicationLog(ctx context.Context, txid string) (*ApplicationLog, error) {
	result, err := c.call(ctx, "getapplicationlog", txid)
	if err != nil {
		return nil, err
	}
	var out ApplicationLog
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, fmt.Errorf("unmarshal application log: %w", err)
	}
	return &out, nil
}

func (c *rpcClient) getNep17Transfers(ctx context.Context, address string) (*Nep17Transfers, error) {
	result, err := c.call(ctx, "getnep17transfers", address)
	if err != nil {
		return nil, err
	}
	var out Nep17Transfers
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, fmt.Errorf("unmarshal transfers: %w", err)
	}
	return &out, nil
}
