package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Signer signs transactions for one chain and relay payloads with one key.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
	signer  types.Signer
}

// NewSigner creates a Signer for chainID.
func NewSigner(key *ecdsa.PrivateKey, chainID *big.Int) *Signer {
	return &Signer{
		key:     key,
		address: ethcrypto.PubkeyToAddress(key.PublicKey),
		chainID: new(big.Int).Set(chainID),
		signer:  types.LatestSignerForChainID(chainID),
	}
}

// NewEphemeralSigner creates a Signer with a fresh random key. Relays only use
// the key as a reputation identity, so a throwaway one is valid.
func NewEphemeralSigner(chainID *big.Int) (*Signer, error) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("crypto: generate key: %w", err)
	}
	return NewSigner(key, chainID), nil
}

// Address returns the signing address.
func (s *Signer) Address() common.Address {
	return s.address
}

// ChainID returns the chain the signer signs for.
func (s *Signer) ChainID() *big.Int {
	return new(big.Int).Set(s.chainID)
}

// SignTx signs tx for the configured chain.
func (s *Signer) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, s.signer, s.key)
	if err != nil {
		return nil, fmt.Errorf("crypto: sign tx: %w: %w", domain.ErrSigningFailed, err)
	}
	return signed, nil
}

// FlashbotsSignature returns the X-Flashbots-Signature header value for a
// request body: "<address>:<sig over the EIP-191 hash of keccak(body) hex>".
func (s *Signer) FlashbotsSignature(body []byte) (string, error) {
	digest := hexutil.Encode(ethcrypto.Keccak256(body))
	sig, err := ethcrypto.Sign(accounts.TextHash([]byte(digest)), s.key)
	if err != nil {
		return "", fmt.Errorf("crypto: sign relay payload: %w: %w", domain.ErrSigningFailed, err)
	}
	return s.address.Hex() + ":" + hexutil.Encode(sig), nil
}
