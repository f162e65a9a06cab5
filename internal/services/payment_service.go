package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"strings"
	"sync"
	"time"

	"anypay-backend/internal/clients"
	"anypay-backend/internal/config"
	"anypay-backend/internal/metrics"
	"anypay-backend/internal/models"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// DigestSigner abstracts the remote MPC signing backend
type DigestSigner interface {
	Sign(ctx context.Context, path, digestHex string) (*clients.SignerSignResponse, error)
}

// eip3009ABI covers the one token method the broadcast path calls
const eip3009ABI = `[
	{
		"inputs": [
			{"name": "from", "type": "address"},
			{"name": "to", "type": "address"},
			{"name": "value", "type": "uint256"},
			{"name": "validAfter", "type": "uint256"},
			{"name": "validBefore", "type": "uint256"},
			{"name": "nonce", "type": "bytes32"},
			{"name": "v", "type": "uint8"},
			{"name": "r", "type": "bytes32"},
			{"name": "s", "type": "bytes32"}
		],
		"name": "transferWithAuthorization",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

// erc20TransferABI covers the plain transfer the refund path broadcasts
const erc20TransferABI = `[
	{
		"inputs": [
			{"name": "to", "type": "address"},
			{"name": "value", "type": "uint256"}
		],
		"name": "transfer",
		"outputs": [{"name": "", "type": "bool"}],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

// usdcDecimals USDC uses 6 decimals on every supported network
const usdcDecimals = 6

// PaymentService produces payment authorization artifacts. For header-mode
// networks the artifact is an EIP-3009 payload string carried in X-PAYMENT;
// for broadcast-mode networks the service submits transferWithAuthorization
// on-chain itself and the artifact is the transaction hash. All signatures
// come from the MPC signer; no private key ever exists in this process.
type PaymentService struct {
	signer DigestSigner

	mu         sync.Mutex
	ethClients map[string]*ethclient.Client
}

// NewPaymentService creates a payment service backed by the given signer
func NewPaymentService(signer DigestSigner) *PaymentService {
	return &PaymentService{
		signer:     signer,
		ethClients: make(map[string]*ethclient.Client),
	}
}

// SignAuthorization builds and signs the transfer authorization for a swap
// that completed. The challenge supplies payTo, amount, deadline and nonce;
// the record supplies the paying wallet and its derivation path.
func (s *PaymentService) SignAuthorization(ctx context.Context, record *models.DepositRecord, challenge *PaymentChallenge) (string, error) {
	networkConfig, err := config.GetNetworkConfig(record.TargetChain)
	if err != nil {
		return "", fmt.Errorf("unsupported target chain %s: %w", record.TargetChain, err)
	}

	from := common.HexToAddress(record.SwapWalletAddress)
	payTo := common.HexToAddress(challenge.PayTo)

	value, err := parseTokenAmount(challenge.MaxAmountRequired, usdcDecimals)
	if err != nil {
		return "", fmt.Errorf("invalid maxAmountRequired %q: %w", challenge.MaxAmountRequired, err)
	}

	nonce, err := parseAuthorizationNonce(challenge.Nonce)
	if err != nil {
		return "", fmt.Errorf("invalid challenge nonce %q: %w", challenge.Nonce, err)
	}

	typedData := buildTransferAuthorization(networkConfig, from, payTo, value, challenge.Deadline, nonce)
	digest, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return "", fmt.Errorf("failed to hash typed data: %w", err)
	}

	log.Printf("🔏 [Payment] Signing authorization for %s (from: %s, to: %s, value: %s)",
		record.DepositAddress, from.Hex(), payTo.Hex(), value.String())

	sig, err := s.signDigest(ctx, record.SigningKeyRef, digest, from)
	if err != nil {
		return "", err
	}

	if networkConfig.BroadcastTx {
		return s.broadcastAuthorization(ctx, record, networkConfig, from, payTo, value, challenge.Deadline, nonce, sig)
	}

	return encodeHeaderArtifact(from, payTo, value, challenge.Deadline, nonce, sig)
}

// signDigest requests a signature from the MPC backend and reconstructs it
// against the expected signer address
func (s *PaymentService) signDigest(ctx context.Context, path string, digest []byte, expectedSigner common.Address) ([]byte, error) {
	metrics.SigningAttempts.Inc()

	resp, err := s.signer.Sign(ctx, path, hexutil.Encode(digest))
	if err != nil {
		metrics.SigningFailures.Inc()
		return nil, fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}
	if !resp.Success {
		metrics.SigningFailures.Inc()
		return nil, fmt.Errorf("%w: %s", ErrSigningFailed, resp.Error)
	}

	sig, err := ReconstructSignature(resp.R, resp.S, resp.V, digest, expectedSigner)
	if err != nil {
		metrics.SigningFailures.Inc()
		return nil, fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}
	return sig, nil
}

// broadcastAuthorization submits transferWithAuthorization directly on-chain
// for networks whose endpoints do not consume X-PAYMENT headers. The returned
// artifact is the broadcast transaction hash.
func (s *PaymentService) broadcastAuthorization(ctx context.Context, record *models.DepositRecord, networkConfig *config.NetworkConfig,
	from, payTo common.Address, value *big.Int, validBefore int64, nonce [32]byte, authSig []byte) (string, error) {

	client, err := s.ethClient(record.TargetChain, networkConfig)
	if err != nil {
		return "", err
	}

	parsedABI, err := abi.JSON(strings.NewReader(eip3009ABI))
	if err != nil {
		return "", fmt.Errorf("failed to parse token ABI: %w", err)
	}

	var r, sComp [32]byte
	copy(r[:], authSig[0:32])
	copy(sComp[:], authSig[32:64])
	v := authSig[64] + 27

	callData, err := parsedABI.Pack("transferWithAuthorization",
		from, payTo, value, big.NewInt(0), big.NewInt(validBefore), nonce, v, r, sComp)
	if err != nil {
		return "", fmt.Errorf("failed to pack transferWithAuthorization: %w", err)
	}

	txNonce, err := client.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice := s.resolveGasPrice(ctx, client, networkConfig)
	gasLimit := networkConfig.GasLimit
	if gasLimit == 0 {
		gasLimit = 150000
	}

	tokenAddress := common.HexToAddress(networkConfig.USDCContract)
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    txNonce,
		To:       &tokenAddress,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     callData,
	})

	chainID := big.NewInt(networkConfig.ChainID)
	ethSigner := types.NewEIP155Signer(chainID)
	sigHash := ethSigner.Hash(tx)

	txSig, err := s.signDigest(ctx, record.SigningKeyRef, sigHash.Bytes(), from)
	if err != nil {
		return "", err
	}

	signedTx, err := tx.WithSignature(ethSigner, txSig)
	if err != nil {
		return "", fmt.Errorf("failed to apply signature: %w", err)
	}

	if err := client.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("failed to broadcast transaction: %w", err)
	}

	log.Printf("📤 [Payment] Broadcast transferWithAuthorization for %s: %s (gas: %d, gasPrice: %s)",
		record.DepositAddress, signedTx.Hash().Hex(), gasLimit, gasPrice.String())
	return signedTx.Hash().Hex(), nil
}

// TransferUSDC moves USDC out of the record's swap wallet with a plain ERC-20
// transfer signed by the MPC backend under the record's derivation path. Used
// by the refund path to fund a reverse swap; the returned value is the
// broadcast transaction hash.
func (s *PaymentService) TransferUSDC(ctx context.Context, record *models.DepositRecord, to string, value *big.Int) (string, error) {
	networkConfig, err := config.GetNetworkConfig(record.TargetChain)
	if err != nil {
		return "", fmt.Errorf("unsupported target chain %s: %w", record.TargetChain, err)
	}

	client, err := s.ethClient(record.TargetChain, networkConfig)
	if err != nil {
		return "", err
	}

	parsedABI, err := abi.JSON(strings.NewReader(erc20TransferABI))
	if err != nil {
		return "", fmt.Errorf("failed to parse transfer ABI: %w", err)
	}
	callData, err := parsedABI.Pack("transfer", common.HexToAddress(to), value)
	if err != nil {
		return "", fmt.Errorf("failed to pack transfer: %w", err)
	}

	from := common.HexToAddress(record.SwapWalletAddress)
	txNonce, err := client.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice := s.resolveGasPrice(ctx, client, networkConfig)
	gasLimit := networkConfig.GasLimit
	if gasLimit == 0 {
		gasLimit = 100000
	}

	tokenAddress := common.HexToAddress(networkConfig.USDCContract)
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    txNonce,
		To:       &tokenAddress,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     callData,
	})

	ethSigner := types.NewEIP155Signer(big.NewInt(networkConfig.ChainID))
	txSig, err := s.signDigest(ctx, record.SigningKeyRef, ethSigner.Hash(tx).Bytes(), from)
	if err != nil {
		return "", err
	}

	signedTx, err := tx.WithSignature(ethSigner, txSig)
	if err != nil {
		return "", fmt.Errorf("failed to apply signature: %w", err)
	}

	if err := client.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("failed to broadcast transfer: %w", err)
	}

	log.Printf("📤 [Payment] Broadcast USDC transfer for %s: %s (to: %s, value: %s)",
		record.DepositAddress, signedTx.Hash().Hex(), to, value.String())
	return signedTx.Hash().Hex(), nil
}

// resolveGasPrice uses the configured price, falling back to the node's
// suggestion with a 20% bump, then to 0.1 gwei
func (s *PaymentService) resolveGasPrice(ctx context.Context, client *ethclient.Client, networkConfig *config.NetworkConfig) *big.Int {
	if networkConfig.GasPrice != "" && networkConfig.GasPrice != "auto" {
		if gasPrice, ok := new(big.Int).SetString(networkConfig.GasPrice, 10); ok {
			return gasPrice
		}
	}

	suggested, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return big.NewInt(100000000) // 0.1 gwei
	}
	bumped := new(big.Int).Mul(suggested, big.NewInt(120))
	return bumped.Div(bumped, big.NewInt(100))
}

// ethClient returns a cached RPC client for the network, dialing endpoints in
// order until one answers
func (s *PaymentService) ethClient(networkName string, networkConfig *config.NetworkConfig) (*ethclient.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if client, ok := s.ethClients[networkName]; ok {
		return client, nil
	}

	var lastErr error
	for _, endpoint := range networkConfig.RPCEndpoints {
		client, err := ethclient.Dial(endpoint)
		if err != nil {
			lastErr = err
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_, err = client.NetworkID(ctx)
		cancel()
		if err != nil {
			client.Close()
			lastErr = err
			continue
		}

		log.Printf("✅ [Payment] Connected to %s RPC: %s", networkName, endpoint)
		s.ethClients[networkName] = client
		return client, nil
	}

	return nil, fmt.Errorf("no reachable RPC endpoint for %s: %w", networkName, lastErr)
}

// buildTransferAuthorization assembles the EIP-712 typed data for an
// EIP-3009 TransferWithAuthorization over the network's USDC domain
func buildTransferAuthorization(networkConfig *config.NetworkConfig, from, to common.Address, value *big.Int, validBefore int64, nonce [32]byte) apitypes.TypedData {
	domainName := networkConfig.USDCDomainName
	if domainName == "" {
		domainName = "USD Coin"
	}
	domainVersion := networkConfig.USDCVersion
	if domainVersion == "" {
		domainVersion = "2"
	}

	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"TransferWithAuthorization": []apitypes.Type{
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "validAfter", Type: "uint256"},
				{Name: "validBefore", Type: "uint256"},
				{Name: "nonce", Type: "bytes32"},
			},
		},
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              domainName,
			Version:           domainVersion,
			ChainId:           math.NewHexOrDecimal256(networkConfig.ChainID),
			VerifyingContract: networkConfig.USDCContract,
		},
		Message: apitypes.TypedDataMessage{
			"from":        from.Hex(),
			"to":          to.Hex(),
			"value":       value.String(),
			"validAfter":  "0",
			"validBefore": new(big.Int).SetInt64(validBefore).String(),
			"nonce":       hexutil.Encode(nonce[:]),
		},
	}
}

// headerArtifact is the X-PAYMENT payload shape payment endpoints consume
type headerArtifact struct {
	Type      string             `json:"type"`
	Signature string             `json:"signature"`
	Data      headerArtifactData `json:"data"`
}

type headerArtifactData struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  int64  `json:"validAfter"`
	ValidBefore int64  `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// encodeHeaderArtifact serializes the signed authorization as the JSON string
// placed verbatim in the X-PAYMENT header. The signature carries v as 27/28.
func encodeHeaderArtifact(from, to common.Address, value *big.Int, validBefore int64, nonce [32]byte, sig []byte) (string, error) {
	wireSig := make([]byte, 65)
	copy(wireSig, sig)
	wireSig[64] += 27

	artifact := headerArtifact{
		Type:      "EIP-3009",
		Signature: hexutil.Encode(wireSig),
		Data: headerArtifactData{
			From:        from.Hex(),
			To:          to.Hex(),
			Value:       value.String(),
			ValidAfter:  0,
			ValidBefore: validBefore,
			Nonce:       hexutil.Encode(nonce[:]),
		},
	}

	encoded, err := json.Marshal(artifact)
	if err != nil {
		return "", fmt.Errorf("failed to encode payment artifact: %w", err)
	}
	return string(encoded), nil
}

// parseTokenAmount converts a decimal token amount string to base units
func parseTokenAmount(amount string, decimals int) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return nil, fmt.Errorf("empty amount")
	}

	parts := strings.SplitN(amount, ".", 2)
	whole := parts[0]
	frac := ""
	if len(parts) == 2 {
		frac = parts[1]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > decimals {
		return nil, fmt.Errorf("more than %d decimal places", decimals)
	}
	frac += strings.Repeat("0", decimals-len(frac))

	result, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok || result.Sign() < 0 {
		return nil, fmt.Errorf("not a valid positive decimal")
	}
	return result, nil
}

// parseAuthorizationNonce coerces a challenge nonce (hex string or decimal)
// into a left-padded bytes32
func parseAuthorizationNonce(raw string) ([32]byte, error) {
	var nonce [32]byte
	raw = strings.TrimSpace(raw)

	value := new(big.Int)
	var ok bool
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		_, ok = value.SetString(raw[2:], 16)
	} else {
		_, ok = value.SetString(raw, 10)
		if !ok {
			// some endpoints send unprefixed hex nonces
			_, ok = value.SetString(raw, 16)
		}
	}
	if !ok {
		return nonce, fmt.Errorf("not a hex or decimal value")
	}
	if value.BitLen() > 256 {
		return nonce, fmt.Errorf("wider than 32 bytes")
	}

	value.FillBytes(nonce[:])
	return nonce, nil
}
