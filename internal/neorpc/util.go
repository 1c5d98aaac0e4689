package neorpc

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
)

func parseInt64(v string) (int64, error) {
	if v == "" {
		return 0, errors.New("empty int string")
	}
	return strconv.ParseInt(v, 10, 64)
}

func scriptBase64(script []byte) string {
	return base64.StdEncoding.EncodeToString(script)
}

// DefaultWSEndpoint maps an RPC endpoint to the node's websocket endpoint.
func DefaultWSEndpoint(rpc string) string {
	if strings.HasPrefix(rpc, "ws://") || strings.HasPrefix(rpc, "wss://") {
		if strings.HasSuffix(rpc, "/ws") {
			return rpc
		}
		return strings.TrimRight(rpc, "/") + "/ws"
	}
	if strings.HasPrefix(rpc, "https://") {
		return "wss://" + strings.TrimPrefix(strings.TrimRight(rpc, "/"), "https://") + "/ws"
	}
	if strings.HasPrefix(rpc, "http://") {
		return "ws://" + strings.TrimPrefix(strings.TrimRight(rpc, "/"), "http://") + "/ws"
	}
	return ""
}
