package services

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"strings"
	"testing"

	"anypay-backend/internal/clients"
	"anypay-backend/internal/config"
	"anypay-backend/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/require"
)

// keyBackedSigner signs digests locally, standing in for the MPC service
type keyBackedSigner struct {
	key *ecdsa.PrivateKey
}

func (f *keyBackedSigner) Sign(_ context.Context, _ string, digestHex string) (*clients.SignerSignResponse, error) {
	digest, err := hexutil.Decode(digestHex)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(digest, f.key)
	if err != nil {
		return nil, err
	}
	v := int(sig[64])
	return &clients.SignerSignResponse{
		Success: true,
		R:       hexutil.Encode(sig[0:32]),
		S:       hexutil.Encode(sig[32:64]),
		V:       &v,
	}, nil
}

func setTestNetworks(t *testing.T) {
	t.Helper()
	prev := config.AppConfig
	config.AppConfig = &config.Config{
		OneClick: config.OneClickConfig{
			OriginAsset:      "nep141:zec.omft.near",
			OriginDecimals:   8,
			QuoteDeadlineSec: 600,
		},
		Networks: map[string]config.NetworkConfig{
			"base": {
				ChainID:          8453,
				Name:             "Base",
				USDCContract:     "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913",
				USDCDomainName:   "USD Coin",
				USDCVersion:      "2",
				DestinationAsset: "nep141:base-0x833589fcd6edb6e08f4c7c32d4f71b54bda02913.omft.near",
				Enabled:          true,
			},
		},
	}
	t.Cleanup(func() { config.AppConfig = prev })
}

func TestSignAuthorizationHeaderArtifact(t *testing.T) {
	setTestNetworks(t)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	wallet := crypto.PubkeyToAddress(key.PublicKey)

	service := NewPaymentService(&keyBackedSigner{key: key})
	record := &models.DepositRecord{
		DepositAddress:    "zaddr1",
		SwapWalletAddress: wallet.Hex(),
		SigningKeyRef:     "base-12345678",
		TargetChain:       "base",
	}
	challenge := &PaymentChallenge{
		PayTo:             "0xdef0000000000000000000000000000000000001",
		MaxAmountRequired: "1.5",
		Deadline:          1900000000,
		Nonce:             "0x2a",
	}

	artifact, err := service.SignAuthorization(context.Background(), record, challenge)
	require.NoError(t, err)

	var payload struct {
		Type      string `json:"type"`
		Signature string `json:"signature"`
		Data      struct {
			From        string `json:"from"`
			To          string `json:"to"`
			Value       string `json:"value"`
			ValidAfter  int64  `json:"validAfter"`
			ValidBefore int64  `json:"validBefore"`
			Nonce       string `json:"nonce"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(artifact), &payload))
	require.Equal(t, "EIP-3009", payload.Type)
	require.Equal(t, wallet.Hex(), payload.Data.From)
	require.Equal(t, "1500000", payload.Data.Value)
	require.EqualValues(t, 0, payload.Data.ValidAfter)
	require.EqualValues(t, 1900000000, payload.Data.ValidBefore)

	// The signature must verify against the typed-data digest with legacy v
	sig, err := hexutil.Decode(payload.Signature)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	require.Contains(t, []byte{27, 28}, sig[64])

	networkConfig, err := config.GetNetworkConfig("base")
	require.NoError(t, err)
	var nonce [32]byte
	nonce[31] = 0x2a
	amount, err := parseTokenAmount("1.5", usdcDecimals)
	require.NoError(t, err)
	typedData := buildTransferAuthorization(networkConfig, wallet,
		common.HexToAddress(payload.Data.To), amount, 1900000000, nonce)
	digest, _, err := apitypes.TypedDataAndHash(typedData)
	require.NoError(t, err)

	recoverable := make([]byte, 65)
	copy(recoverable, sig)
	recoverable[64] -= 27
	pub, err := crypto.SigToPub(digest, recoverable)
	require.NoError(t, err)
	require.Equal(t, wallet, crypto.PubkeyToAddress(*pub))
}

func TestSignAuthorizationUnknownChain(t *testing.T) {
	setTestNetworks(t)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	service := NewPaymentService(&keyBackedSigner{key: key})
	record := &models.DepositRecord{
		SwapWalletAddress: crypto.PubkeyToAddress(key.PublicKey).Hex(),
		TargetChain:       "unknown-chain",
	}
	_, err = service.SignAuthorization(context.Background(), record, &PaymentChallenge{
		PayTo: "0x01", MaxAmountRequired: "1", Deadline: 1, Nonce: "1",
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported target chain")
}

func TestParseTokenAmount(t *testing.T) {
	cases := []struct {
		in   string
		want string
		err  bool
	}{
		{in: "1.0", want: "1000000"},
		{in: "0.1", want: "100000"},
		{in: "10", want: "10000000"},
		{in: "0.000001", want: "1"},
		{in: "1.2345678", err: true}, // more precision than USDC carries
		{in: "-1", err: true},
		{in: "", err: true},
		{in: "abc", err: true},
	}

	for _, tc := range cases {
		got, err := parseTokenAmount(tc.in, usdcDecimals)
		if tc.err {
			require.Error(t, err, "input %q", tc.in)
			continue
		}
		require.NoError(t, err, "input %q", tc.in)
		require.Equal(t, tc.want, got.String(), "input %q", tc.in)
	}
}

func TestParseAuthorizationNonce(t *testing.T) {
	nonce, err := parseAuthorizationNonce("0x2a")
	require.NoError(t, err)
	require.Equal(t, byte(0x2a), nonce[31])

	nonce, err = parseAuthorizationNonce("42")
	require.NoError(t, err)
	require.Equal(t, byte(42), nonce[31])

	nonce, err = parseAuthorizationNonce("deadbeef")
	require.NoError(t, err)
	require.Equal(t, byte(0xef), nonce[31])

	_, err = parseAuthorizationNonce("")
	require.Error(t, err)

	// 33 bytes of 0xff cannot fit a bytes32
	_, err = parseAuthorizationNonce("0x" + strings.Repeat("ff", 33))
	require.Error(t, err)
}
