package onmeta

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/honeynil/upi-crypto-offramp/pkg/errors"
)

func sampleRequest() OrderRequest {
	return OrderRequest{
		SellTokenSymbol:     "USDT",
		SellTokenAddress:    "0xc2132D05D31c914a87C6611C10748AEb04B58e8F",
		ChainID:             137,
		FiatCurrency:        "INR",
		FiatAmount:          json.Number("500.00"),
		SenderWalletAddress: "0x52908400098527886E0F7030069857D2E4169EE7",
		RefundWalletAddress: "0x52908400098527886E0F7030069857D2E4169EE7",
		BankDetails:         UPIBankDetails(),
		MetaData: MetaData{
			MerchantTxID: "M-1",
			UPIID:        "shop@upi",
			WebhookURL:   "http://localhost:8080/api/onmeta-webhook",
		},
	}
}

func TestClient_CreateOfframpOrder_Request(t *testing.T) {
	var (
		gotPath    string
		gotHeaders http.Header
		gotBody    map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotHeaders = r.Header.Clone()
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		_, _ = w.Write([]byte(`{"success":true,"data":{"orderId":"ord-1"}}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/v1/", "secret", "127.0.0.1", time.Second)
	_, err := client.CreateOfframpOrder(context.Background(), sampleRequest())
	require.NoError(t, err)

	assert.Equal(t, "/v1/offramp/orders/create", gotPath)
	assert.Equal(t, "Bearer secret", gotHeaders.Get("Authorization"))
	assert.Equal(t, "secret", gotHeaders.Get("x-api-key"))
	assert.Equal(t, "127.0.0.1", gotHeaders.Get("X-Forwarded-For"))
	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))

	assert.Equal(t, "USDT", gotBody["sellTokenSymbol"])
	assert.Equal(t, float64(137), gotBody["chainId"])
	assert.Equal(t, "INR", gotBody["fiatCurrency"])
	assert.Equal(t, float64(500), gotBody["fiatAmount"])
	assert.Equal(t, gotBody["senderWalletAddress"], gotBody["refundWalletAddress"])
	assert.Equal(t, map[string]any{"accountNumber": "instant_payout", "ifsc": "UPI"}, gotBody["bankDetails"])
	meta := gotBody["metaData"].(map[string]any)
	assert.Equal(t, "M-1", meta["merchantTxId"])
	assert.Equal(t, "shop@upi", meta["upiId"])
	assert.Equal(t, "http://localhost:8080/api/onmeta-webhook", meta["webhook_url"])
}

func TestClient_CreateOfframpOrder_Responses(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantOrderID string
		wantAddr    string
		wantQuote   string
		wantErr     bool
	}{
		{
			name:        "Nested",
			status:      http.StatusOK,
			body:        `{"data":{"orderId":"ord-1","receiverWalletAddress":"0xabc","gasUseEstimate":"0.01","quote":{"receivedAmount":495}}}`,
			wantOrderID: "ord-1",
			wantAddr:    "0xabc",
			wantQuote:   `{"receivedAmount":495}`,
		},
		{
			name:        "Flat",
			status:      http.StatusCreated,
			body:        `{"orderId":"ord-2","receiverWalletAddress":"0xdef"}`,
			wantOrderID: "ord-2",
			wantAddr:    "0xdef",
		},
		{
			name:        "NestedFallsBackToFlat",
			status:      http.StatusOK,
			body:        `{"orderId":"ord-3","data":{"receiverWalletAddress":"0x123"}}`,
			wantOrderID: "ord-3",
			wantAddr:    "0x123",
		},
		{
			name:        "ObjectReceiverAddress",
			status:      http.StatusOK,
			body:        `{"data":{"orderId":"o1","receiverWalletAddress":{"address":"0xabc"}}}`,
			wantOrderID: "o1",
		},
		{
			name:        "NumericOrderID",
			status:      http.StatusOK,
			body:        `{"data":{"orderId":12345,"receiverWalletAddress":"0xabc"}}`,
			wantOrderID: "12345",
			wantAddr:    "0xabc",
		},
		{
			name:        "NonObjectData",
			status:      http.StatusOK,
			body:        `{"data":"queued","orderId":"o1","quote":{"rate":84.5}}`,
			wantOrderID: "o1",
			wantQuote:   `{"rate":84.5}`,
		},
		{
			name:        "NullNestedFields",
			status:      http.StatusOK,
			body:        `{"data":{"orderId":null,"quote":null},"orderId":"o2","quote":{"rate":1}}`,
			wantOrderID: "o2",
			wantQuote:   `{"rate":1}`,
		},
		{name: "NonSuccessStatus", status: http.StatusBadRequest, body: `{"error":"bad wallet"}`, wantErr: true},
		{name: "ServerError", status: http.StatusBadGateway, body: `upstream down`, wantErr: true},
		{name: "NotJSON", status: http.StatusOK, body: `<html>`, wantErr: true},
		{name: "MissingOrderID", status: http.StatusOK, body: `{"data":{}}`, wantErr: true},
		{name: "OrderIDWrongType", status: http.StatusOK, body: `{"data":{"orderId":{"id":"o1"}}}`, wantErr: true},
		{name: "ArrayBody", status: http.StatusOK, body: `[{"orderId":"o1"}]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client := NewClient(srv.URL, "secret", "127.0.0.1", time.Second)
			resp, err := client.CreateOfframpOrder(context.Background(), sampleRequest())
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, pkgerrors.ErrProvider)
				var perr *pkgerrors.ProviderError
				require.ErrorAs(t, err, &perr)
				assert.Equal(t, tt.status, perr.StatusCode)
				assert.Contains(t, perr.Error(), tt.body)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOrderID, resp.OrderID)
			assert.Equal(t, tt.wantAddr, resp.ReceiverAddress)
			if tt.wantQuote != "" {
				assert.JSONEq(t, tt.wantQuote, string(resp.Quote))
			}
			assert.JSONEq(t, tt.body, string(resp.Raw))
		})
	}
}

func TestClient_CreateOfframpOrder_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	client := NewClient(url, "secret", "127.0.0.1", time.Second)
	_, err := client.CreateOfframpOrder(context.Background(), sampleRequest())
	assert.ErrorIs(t, err, pkgerrors.ErrProvider)
}
