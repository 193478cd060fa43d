package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ErrWalletSignature is returned when a wallet signature does not recover to
// the claimed address.
var ErrWalletSignature = errors.New("wallet signature mismatch")

// Wallet is a secp256k1 account key. Its address accompanies identity pushes
// so servers can bind a DID to an account.
type Wallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewWallet wraps an existing secp256k1 key.
func NewWallet(key *ecdsa.PrivateKey) *Wallet {
	return &Wallet{key: key, address: ethcrypto.PubkeyToAddress(key.PublicKey)}
}

// GenerateWallet creates a wallet with a fresh random key.
func GenerateWallet() (*Wallet, error) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate wallet key: %w", err)
	}
	return NewWallet(key), nil
}

// WalletFromHex parses a hex-encoded secp256k1 private key.
func WalletFromHex(hexKey string) (*Wallet, error) {
	key, err := ethcrypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return NewWallet(key), nil
}

// Address returns the checksummed account address.
func (w *Wallet) Address() string {
	return w.address.Hex()
}

// Hex returns the private key in the form WalletFromHex accepts.
func (w *Wallet) Hex() string {
	return hex.EncodeToString(ethcrypto.FromECDSA(w.key))
}

// SignMessage produces a personal_sign style signature over msg.
func (w *Wallet) SignMessage(msg []byte) ([]byte, error) {
	sig, err := ethcrypto.Sign(accounts.TextHash(msg), w.key)
	if err != nil {
		return nil, fmt.Errorf("wallet sign: %w", err)
	}
	return sig, nil
}

// RecoverAddress returns the address that produced sig over msg.
func RecoverAddress(msg, sig []byte) (string, error) {
	pub, err := ethcrypto.SigToPub(accounts.TextHash(msg), sig)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrWalletSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub).Hex(), nil
}

// VerifyWalletSignature checks that sig over msg was made by address.
func VerifyWalletSignature(address string, msg, sig []byte) error {
	recovered, err := RecoverAddress(msg, sig)
	if err != nil {
		return err
	}
	if !common.IsHexAddress(address) || common.HexToAddress(address).Hex() != recovered {
		return fmt.Errorf("%w: recovered %s, want %s", ErrWalletSignature, recovered, address)
	}
	return nil
}
