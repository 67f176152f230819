package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/tokenex/pkg/api"
	"github.com/uhyunpark/tokenex/pkg/app/dex"
)

var errNotFound = errors.New("not found")

// client speaks the node's REST API
type client struct {
	base string
	http *http.Client
}

func newClient(base string) *client {
	return &client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *client) nonce(ctx context.Context, addr common.Address) (api.NonceInfo, error) {
	var out api.NonceInfo
	err := c.do(ctx, "GET", "/api/v1/accounts/"+addr.Hex()+"/nonce", nil, &out)
	return out, err
}

func (c *client) submit(ctx context.Context, raw []byte) (common.Hash, error) {
	var out api.SubmitTxResponse
	err := c.do(ctx, "POST", "/api/v1/tx", raw, &out)
	return out.TxHash, err
}

func (c *client) receipt(ctx context.Context, h common.Hash) (*dex.Receipt, error) {
	var out dex.Receipt
	if err := c.do(ctx, "GET", "/api/v1/tx/"+h.Hex(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) do(ctx context.Context, method, path string, body []byte, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr api.ErrorResponse
		if json.Unmarshal(data, &apiErr) != nil || apiErr.Error == "" {
			return fmt.Errorf("%s %s: %s", method, path, resp.Status)
		}
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %s", errNotFound, apiErr.Message)
		}
		return fmt.Errorf("%s: %s", apiErr.Error, apiErr.Message)
	}
	return json.Unmarshal(data, out)
}
