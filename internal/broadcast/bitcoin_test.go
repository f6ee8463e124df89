package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestBitcoinPush(t *testing.T) {
	var gotBody btcPushRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/txs/push" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"tx": map[string]any{"hash": "f4184fc596403b9d638783cf57adfe4c75c605f6356fbc91338530e9831e9e16"},
		})
	}))
	defer srv.Close()

	client := NewBitcoinClient(srv.URL)
	txID, err := client.Push(context.Background(), "0100deadbeef")
	if err != nil {
		t.Fatalf("push failed: %v", err)
	}
	if txID != "f4184fc596403b9d638783cf57adfe4c75c605f6356fbc91338530e9831e9e16" {
		t.Fatalf("tx id = %q", txID)
	}
	if gotBody.Tx != "0100deadbeef" {
		t.Fatalf("pushed hex = %q", gotBody.Tx)
	}
}

func TestBitcoinPushSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "Transaction rejected: dust output"})
	}))
	defer srv.Close()

	if _, err := NewBitcoinClient(srv.URL).Push(context.Background(), "00"); err == nil {
		t.Fatal("expected rejection to surface")
	}
}

func TestBitcoinStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/txs/sometx" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{"confirmations": 5, "block_height": 840_000})
	}))
	defer srv.Close()

	st, err := NewBitcoinClient(srv.URL).Status(context.Background(), "sometx")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if st.Confirmations != 5 || st.BlockHeight != 840_000 {
		t.Fatalf("status = %+v", st)
	}
}

func TestBitcoinStatusNotIndexedYet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	st, err := NewBitcoinClient(srv.URL).Status(context.Background(), "unknown")
	if err != nil {
		t.Fatalf("unindexed transaction must not error: %v", err)
	}
	if st.Confirmations != 0 {
		t.Fatalf("status = %+v", st)
	}
}

func TestBitcoinListUnspent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("unspentOnly") != "true" {
			t.Errorf("missing unspentOnly flag: %s", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"txrefs": []map[string]any{
				{"tx_hash": "aa", "tx_output_n": 0, "value": 150_000, "confirmations": 10},
				{"tx_hash": "bb", "tx_output_n": 1, "value": 90_000, "confirmations": 3},
				{"tx_hash": "cc", "tx_output_n": 0, "value": 40_000, "confirmations": 2, "spent": true},
				{"tx_hash": "dd", "tx_output_n": 0, "value": 10_000, "confirmations": 0},
			},
		})
	}))
	defer srv.Close()

	utxos, err := NewBitcoinClient(srv.URL).ListUnspent(context.Background(), "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa")
	if err != nil {
		t.Fatalf("list unspent failed: %v", err)
	}
	if len(utxos) != 2 {
		t.Fatalf("got %d utxos, want 2 (spent and unconfirmed filtered)", len(utxos))
	}
	if utxos[0].TxID != "aa" || utxos[0].Value != 150_000 {
		t.Fatalf("first utxo = %+v", utxos[0])
	}
	if utxos[1].TxID != "bb" || utxos[1].Vout != 1 {
		t.Fatalf("second utxo = %+v", utxos[1])
	}
}
