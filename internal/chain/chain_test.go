package chain

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stakeladder/backend/internal/models"
)

func encodeTron(account [20]byte) string {
	payload := append([]byte{tronAddressPrefix}, account[:]...)
	return base58.Encode(append(payload, tronChecksum(payload)...))
}

func TestValidateAddress(t *testing.T) {
	var acct [20]byte
	for i := range acct {
		acct[i] = byte(i + 1)
	}
	tron := encodeTron(acct)
	require.Equal(t, byte('T'), tron[0])

	assert.NoError(t, ValidateAddress(models.NetworkTRC20, tron))
	assert.NoError(t, ValidateAddress(models.NetworkBEP20, "0x52908400098527886E0F7030069857D2E4169EE7"))

	// Flip the last character to break the checksum.
	last := tron[len(tron)-1]
	swap := byte('2')
	if last == swap {
		swap = '3'
	}
	tampered := tron[:len(tron)-1] + string(swap)
	assert.ErrorIs(t, ValidateAddress(models.NetworkTRC20, tampered), ErrInvalidAddress)

	assert.ErrorIs(t, ValidateAddress(models.NetworkTRC20, "0x52908400098527886E0F7030069857D2E4169EE7"), ErrInvalidAddress)
	assert.ErrorIs(t, ValidateAddress(models.NetworkBEP20, tron), ErrInvalidAddress)
	assert.ErrorIs(t, ValidateAddress(models.NetworkBEP20, "0x0000000000000000000000000000000000000000"), ErrInvalidAddress)
	assert.ErrorIs(t, ValidateAddress(models.Network("erc20"), "0x52908400098527886E0F7030069857D2E4169EE7"), ErrUnsupportedNetwork)
}

func newVerifierServer(t *testing.T, result VerifyResult, status int, seen *VerifyRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/verify", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		if seen != nil {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		}
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(result)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestVerify_SendsConfiguredDepth(t *testing.T) {
	var seen VerifyRequest
	srv := newVerifierServer(t, VerifyResult{Verified: true, Amount: decimal.RequireFromString("101.5"), Confirmations: 20}, http.StatusOK, &seen)
	c := NewClient(srv.URL+"/", 2*time.Second, 0, map[models.Network]int{models.NetworkTRC20: 19})

	res, err := c.Verify(context.Background(), VerifyRequest{
		TxRef: "abc", Network: models.NetworkTRC20, ToAddress: "T...", Amount: decimal.RequireFromString("101.5"),
	})
	require.NoError(t, err)
	assert.True(t, res.Verified)
	assert.Equal(t, 19, seen.MinConfirmations)
	assert.Equal(t, "abc", seen.TxRef)
	assert.True(t, seen.Amount.Equal(decimal.RequireFromString("101.5")))
}

func TestVerify_ShallowOrShortIsUnverified(t *testing.T) {
	depths := map[models.Network]int{models.NetworkBEP20: 15}
	req := VerifyRequest{TxRef: "x", Network: models.NetworkBEP20, Amount: decimal.NewFromInt(100)}

	shallow := newVerifierServer(t, VerifyResult{Verified: true, Amount: decimal.NewFromInt(100), Confirmations: 3}, http.StatusOK, nil)
	res, err := NewClient(shallow.URL, time.Second, 0, depths).Verify(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.Verified)

	short := newVerifierServer(t, VerifyResult{Verified: true, Amount: decimal.NewFromInt(99), Confirmations: 30}, http.StatusOK, nil)
	res, err = NewClient(short.URL, time.Second, 0, depths).Verify(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.Verified)
}

func TestVerify_Errors(t *testing.T) {
	depths := map[models.Network]int{models.NetworkBEP20: 15}

	down := newVerifierServer(t, VerifyResult{}, http.StatusBadGateway, nil)
	_, err := NewClient(down.URL, time.Second, 0, depths).Verify(context.Background(), VerifyRequest{Network: models.NetworkBEP20})
	assert.Error(t, err)

	_, err = NewClient(down.URL, time.Second, 0, depths).Verify(context.Background(), VerifyRequest{Network: models.NetworkTRC20})
	assert.True(t, errors.Is(err, ErrUnsupportedNetwork))

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer slow.Close()
	_, err = NewClient(slow.URL, 20*time.Millisecond, 0, depths).Verify(context.Background(), VerifyRequest{Network: models.NetworkBEP20})
	assert.Error(t, err, "a hung verifier must time out")
}
